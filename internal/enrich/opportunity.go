package enrich

import (
	"time"

	"github.com/google/uuid"

	"telegram-bdintel/internal/store"
)

// opportunityNextSteps — фиксированный план первых шагов воронки.
var opportunityNextSteps = []string{
	"Schedule discovery call",
	"Prepare tailored proposal",
	"Map decision makers and budget",
}

// QualifiesForOpportunity — порог входа в воронку: высокий балл и ёмкость
// не ниже средней.
func QualifiesForOpportunity(lead store.Lead) bool {
	if lead.IntelligenceScore <= 60 {
		return false
	}
	return lead.InvestmentCapacity == store.CapacityHigh ||
		lead.InvestmentCapacity == store.CapacityMedium
}

// opportunityType — тип возможности по доминирующему классу сигналов.
func opportunityType(hits Hits) string {
	switch {
	case hits.Has(CatInvestmentTier1, CatInvestmentTier2, CatCryptoDefi):
		return "investment"
	case hits.Has(CatBizDev):
		return "partnership"
	case hits.Has(CatTechnology):
		return "technology"
	default:
		return "general"
	}
}

// BuildOpportunity — строка возможности для квалифицированного лида.
// probability — балл, приведённый к [0, 1].
func BuildOpportunity(lead store.Lead, hits Hits, now time.Time) store.Opportunity {
	return store.Opportunity{
		OpportunityID:   uuid.NewString(),
		LeadID:          lead.LeadID,
		OpportunityType: opportunityType(hits),
		EstimatedValue:  lead.EstimatedValue,
		Probability:     clampFloat(float64(lead.IntelligenceScore)/100, 0, 1),
		Timeline:        timelineFor(lead.IntelligenceScore),
		Stage:           store.StageQualification,
		NextSteps:       append([]string(nil), opportunityNextSteps...),
		CreatedAt:       now,
	}
}

func timelineFor(score int) string {
	if score >= 80 {
		return "1-3 months"
	}
	return "3-6 months"
}
