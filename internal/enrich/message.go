package enrich

import (
	"strings"
	"time"

	"telegram-bdintel/internal/store"
)

// interrogatives — ведущие вопросительные токены для is_question.
var interrogatives = map[string]bool{
	"what": true, "why": true, "how": true, "when": true, "where": true,
	"who": true, "which": true, "can": true, "could": true, "would": true,
	"do": true, "does": true, "is": true, "are": true, "will": true,
	"что": true, "почему": true, "как": true, "когда": true, "где": true,
	"кто": true, "можно": true, "сколько": true,
}

// AnalyzeMessage вычисляет посообщностные сигналы по расшифрованному тексту
// и возвращает копию m с заполненными колонками. Дата интерпретируется в loc —
// время суток считается по часовому поясу оператора, не по UTC.
func AnalyzeMessage(m store.Message, text string, sentiment SentimentStrategy, loc *time.Location) store.Message {
	tokens := tokenize(text)
	m.WordCount = len(tokens)
	m.LengthCategory = lengthCategory(len(tokens))

	local := m.Date.In(loc)
	m.TimeOfDay = timeOfDay(local.Hour())
	m.DayOfWeek = strings.ToLower(local.Weekday().String())

	m.IsQuestion = isQuestion(text, tokens)
	m.ContainsLinks = containsLinks(text)
	m.ContainsMedia = m.MessageType != "" && m.MessageType != "text"
	m.Sentiment = sentiment.Classify(text)

	hits := ScanText(text)
	m.ContainsBusinessKeywords = len(hits) > 0
	m.ContentCategory = contentCategory(hits)

	m.Enriched = true
	return m
}

func lengthCategory(words int) string {
	switch {
	case words < 5:
		return store.LengthShort
	case words < 25:
		return store.LengthMedium
	default:
		return store.LengthLong
	}
}

func timeOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return store.TimeMorning
	case hour >= 12 && hour < 17:
		return store.TimeAfternoon
	case hour >= 17 && hour < 22:
		return store.TimeEvening
	default:
		return store.TimeNight
	}
}

func isQuestion(text string, tokens []string) bool {
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		return true
	}
	return len(tokens) > 0 && interrogatives[tokens[0]]
}

func containsLinks(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"http://", "https://", "t.me/", "www."} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// contentCategory — классификация по приоритету: business > technical > social,
// casual — остаток.
func contentCategory(hits Hits) string {
	switch {
	case hits.Has(CatInvestmentTier1, CatInvestmentTier2, CatBizDev,
		CatFinServices, CatWealth, CatDecisionMakers):
		return store.CategoryBusiness
	case hits.Has(CatTechnology, CatCryptoDefi):
		return store.CategoryTechnical
	case hits.Has(CatNetwork, CatConference):
		return store.CategorySocial
	default:
		return store.CategoryCasual
	}
}
