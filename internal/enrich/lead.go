package enrich

import (
	"telegram-bdintel/internal/store"
)

// Tier — детерминированное отображение intelligence_score в категории лида.
type Tier struct {
	Quality            string
	Priority           string
	InvestmentCapacity string
	DealSizeCategory   string
}

// TierFor возвращает уровень по полосам балла. Границы полос включительны
// снизу; балл ниже порога лида не даёт уровня вовсе.
func TierFor(score int) (Tier, bool) {
	switch {
	case score >= 80:
		return Tier{store.LeadHot, store.PriorityCritical, store.CapacityHigh, store.DealEnterprise}, true
	case score >= 60:
		return Tier{store.LeadWarm, store.PriorityHigh, store.CapacityMedium, store.DealMidMarket}, true
	case score >= 40:
		return Tier{store.LeadWarm, store.PriorityMedium, store.CapacityMedium, ""}, true
	case score >= LeadThreshold:
		return Tier{store.LeadCold, store.PriorityLow, store.CapacityLow, store.DealStartup}, true
	default:
		return Tier{}, false
	}
}

// EstimatedValue — оценка сделки: база score × 100, кумулятивные множители по
// классам сигналов, потолок 100 000.
func EstimatedValue(score int, hits Hits) float64 {
	value := float64(score) * 100
	if hits.Has(CatInvestmentTier1, CatInvestmentTier2, CatCryptoDefi) {
		value *= 3
	}
	if hits.Has(CatWealth) {
		value *= 2.5
	}
	if hits.Has(CatDecisionMakers) {
		value *= 2
	}
	if hits.Has(CatNetwork) {
		value *= 1.8
	}
	if value > 100000 {
		value = 100000
	}
	return value
}

// relationshipStrength — сила отношений по объёму и доле позитива.
func relationshipStrength(st store.ContactMessageStats) string {
	switch {
	case st.TotalMessages > 100:
		return store.RelationshipStrong
	case st.TotalMessages > 30:
		return store.RelationshipModerate
	default:
		return store.RelationshipWeak
	}
}

// BuildLead собирает строку лида из балла, попаданий таксономии и агрегатов.
// Вызывается только при score ≥ LeadThreshold.
func BuildLead(userID int64, score int, hits Hits, st store.ContactMessageStats) store.Lead {
	tier, _ := TierFor(score)
	lead := store.Lead{
		LeadID:               store.LeadIDFor(userID),
		UserID:               userID,
		IntelligenceScore:    score,
		BDScore:              clampFloat(float64(score)*0.8, 0, 100),
		ConversionLikelihood: clampFloat(float64(score)*0.7, 0, 100),
		LeadQuality:          tier.Quality,
		Priority:             tier.Priority,
		InvestmentCapacity:   tier.InvestmentCapacity,
		DealSizeCategory:     tier.DealSizeCategory,
		RelationshipStrength: relationshipStrength(st),
		EstimatedValue:       EstimatedValue(score, hits),

		BusinessKeywords: appendHits(nil, hits, CatBizDev, CatConference),
		InvestmentKeywords: appendHits(nil, hits,
			CatInvestmentTier1, CatInvestmentTier2, CatCryptoDefi),
		TechnologyExpertise:  appendHits(nil, hits, CatTechnology),
		DecisionMakerSignals: appendHits(nil, hits, CatDecisionMakers),
		NetworkInfluence:     appendHits(nil, hits, CatNetwork),
		TrustIndicators:      appendHits(nil, hits, CatSolution),
		FinancialIndicators:  appendHits(nil, hits, CatFinServices, CatWealth),
	}
	return lead
}

// Demote приводит существующего лида к состоянию "ниже порога": строка не
// удаляется, но качество и приоритет падают до минимума.
func Demote(lead store.Lead, score int) store.Lead {
	lead.IntelligenceScore = score
	lead.BDScore = clampFloat(float64(score)*0.8, 0, 100)
	lead.ConversionLikelihood = clampFloat(float64(score)*0.7, 0, 100)
	lead.LeadQuality = store.LeadCold
	lead.Priority = store.PriorityLow
	return lead
}

func appendHits(dst []string, hits Hits, cats ...string) []string {
	for _, cat := range cats {
		dst = append(dst, hits[cat]...)
	}
	return dst
}
