package enrich

import "telegram-bdintel/internal/store"

// scoreWindow — канонический размер окна корпуса: скоринг смотрит на последние
// 200 сообщений контакта, чтобы прогон оставался O(1) на контакт.
const scoreWindow = 200

// LeadThreshold — минимальный intelligence_score для создания лида.
const LeadThreshold = 25

// KeywordScore — вклад таксономии: отличные попадания категории × её вес.
// Повторы фразы в корпусе не множат счёт — иначе многословные контакты
// сатурировали бы шкалу одним словарным словом.
func KeywordScore(hits Hits) int {
	score := 0
	for _, cat := range categoryOrder {
		weight := categoryWeights[cat]
		if weight == 0 {
			weight = 1
		}
		score += len(hits[cat]) * weight
	}
	return score
}

// BonusScore — поведенческие бонусы поверх таксономии. Вся арифметика целая:
// отношения сравниваются перекрёстным умножением, без плавающей точки.
func BonusScore(st store.ContactMessageStats) int {
	score := 0

	switch {
	case st.TotalMessages > 200:
		score += 25
	case st.TotalMessages > 50:
		score += 15
	case st.TotalMessages > 10:
		score += 5
	}

	// Доля позитива считается от обогащённых сообщений: тональность есть
	// только у них.
	if st.EnrichedCount > 0 && st.PositiveCount*10 > st.EnrichedCount*6 {
		score += 10
	}

	if st.TotalMessages > 0 {
		switch {
		case st.BusinessCount*10 > st.TotalMessages*3:
			score += 15
		case st.BusinessCount*10 > st.TotalMessages:
			score += 8
		}
	}

	if st.EnrichedCount > 0 && st.TotalWordCount > st.EnrichedCount*20 {
		score += 10
	}

	switch {
	case st.Recent30Days > 10:
		score += 15
	case st.Recent30Days > 0:
		score += 8
	}

	multiChat := st.DistinctChats * 2
	if multiChat > 20 {
		multiChat = 20
	}
	score += multiChat

	return score
}

// IntelligenceScore — итоговый балл контакта, зажатый в [0, 100].
func IntelligenceScore(hits Hits, st store.ContactMessageStats) int {
	return clampInt(KeywordScore(hits)+BonusScore(st), 0, 100)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
