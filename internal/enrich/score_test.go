package enrich

import (
	"reflect"
	"testing"

	"telegram-bdintel/internal/store"
)

func TestScanText(t *testing.T) {
	t.Parallel()

	hits := ScanText("Need INVESTMENT urgently, the venture capital term sheet is ready")
	if !reflect.DeepEqual(hits[CatInvestmentTier1], []string{"investment", "venture capital", "term sheet"}) {
		t.Errorf("investment hits = %v", hits[CatInvestmentTier1])
	}
	if !reflect.DeepEqual(hits[CatUrgencyTiming], []string{"urgently"}) {
		t.Errorf("urgency hits = %v", hits[CatUrgencyTiming])
	}

	// Целотокенное совпадение: "investment" внутри "disinvestment" не считается.
	if h := ScanText("the disinvestment debate"); len(h) != 0 {
		t.Errorf("substring matched as phrase: %v", h)
	}

	// Повторы фразы не множат попадания.
	h := ScanText("investment investment investment")
	if len(h[CatInvestmentTier1]) != 1 {
		t.Errorf("repeated phrase counted %d times", len(h[CatInvestmentTier1]))
	}
}

func TestKeywordScoreWeights(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		hits Hits
		want int
	}{
		{"empty", Hits{}, 0},
		{"tier1 x3", Hits{CatInvestmentTier1: {"investment"}}, 3},
		{"decision maker x4", Hits{CatDecisionMakers: {"ceo"}}, 4},
		{"wealth x5", Hits{CatWealth: {"family office"}}, 5},
		{"default x1", Hits{CatPainPoints: {"churn"}}, 1},
		{
			"mixed",
			Hits{
				CatInvestmentTier1: {"investment", "funding"},
				CatTechnology:      {"api"},
				CatUrgencyTiming:   {"urgent"},
			},
			2*3 + 2 + 1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := KeywordScore(tt.hits); got != tt.want {
				t.Errorf("KeywordScore = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBonusScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		st   store.ContactMessageStats
		want int
	}{
		{"empty", store.ContactMessageStats{}, 0},
		{
			"volume high plus chats",
			store.ContactMessageStats{TotalMessages: 250, DistinctChats: 3},
			25 + 6,
		},
		{
			"positive ratio",
			store.ContactMessageStats{TotalMessages: 5, EnrichedCount: 10, PositiveCount: 7, DistinctChats: 1},
			10 + 2,
		},
		{
			"business ratio strong",
			store.ContactMessageStats{TotalMessages: 10, BusinessCount: 4, DistinctChats: 1},
			15 + 2,
		},
		{
			"business ratio weak",
			store.ContactMessageStats{TotalMessages: 10, BusinessCount: 2, DistinctChats: 1},
			8 + 2,
		},
		{
			"wordy recent",
			store.ContactMessageStats{TotalMessages: 5, EnrichedCount: 5, TotalWordCount: 150, Recent30Days: 12, DistinctChats: 1},
			10 + 15 + 2,
		},
		{
			"multi-chat capped",
			store.ContactMessageStats{TotalMessages: 1, DistinctChats: 15},
			20,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BonusScore(tt.st); got != tt.want {
				t.Errorf("BonusScore = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIntelligenceScoreClamped(t *testing.T) {
	t.Parallel()
	// Перегруженный корпус упирается в потолок 100, не выходит за него.
	hits := Hits{}
	for cat, phrases := range taxonomy {
		hits[cat] = append([]string(nil), phrases...)
	}
	st := store.ContactMessageStats{
		TotalMessages: 500, EnrichedCount: 500, PositiveCount: 500,
		BusinessCount: 400, TotalWordCount: 50000, Recent30Days: 100, DistinctChats: 30,
	}
	if got := IntelligenceScore(hits, st); got != 100 {
		t.Errorf("score = %d, want clamp at 100", got)
	}
}

func TestTierFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score    int
		quality  string
		priority string
		ok       bool
	}{
		{100, store.LeadHot, store.PriorityCritical, true},
		{80, store.LeadHot, store.PriorityCritical, true}, // граница hot, не warm
		{79, store.LeadWarm, store.PriorityHigh, true},
		{60, store.LeadWarm, store.PriorityHigh, true},
		{59, store.LeadWarm, store.PriorityMedium, true},
		{40, store.LeadWarm, store.PriorityMedium, true},
		{39, store.LeadCold, store.PriorityLow, true},
		{25, store.LeadCold, store.PriorityLow, true},
		{24, "", "", false},
		{0, "", "", false},
	}
	for _, tt := range tests {
		tier, ok := TierFor(tt.score)
		if ok != tt.ok {
			t.Errorf("TierFor(%d) ok = %v, want %v", tt.score, ok, tt.ok)
			continue
		}
		if tier.Quality != tt.quality || tier.Priority != tt.priority {
			t.Errorf("TierFor(%d) = %s/%s, want %s/%s",
				tt.score, tier.Quality, tier.Priority, tt.quality, tt.priority)
		}
	}
}

func TestEstimatedValue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		hits Hits
		want float64
	}{
		{"base", Hits{}, 4000},
		{"investment x3", Hits{CatInvestmentTier1: {"investment"}}, 12000},
		{"investment and wealth", Hits{CatInvestmentTier1: {"investment"}, CatWealth: {"net worth"}}, 30000},
		{
			"all multipliers capped",
			Hits{
				CatInvestmentTier1: {"investment"},
				CatWealth:          {"net worth"},
				CatDecisionMakers:  {"ceo"},
				CatNetwork:         {"referral"},
			},
			100000, // 4000×3×2.5×2×1.8 = 108000 → потолок
		},
	}
	for _, tt := range tests {
		if got := EstimatedValue(40, tt.hits); got != tt.want {
			t.Errorf("%s: EstimatedValue = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBuildLeadScoreDerivatives(t *testing.T) {
	t.Parallel()
	lead := BuildLead(7, 80, Hits{CatInvestmentTier1: {"funding"}}, store.ContactMessageStats{TotalMessages: 150})
	if lead.LeadID != "lead_7" || lead.UserID != 7 {
		t.Fatalf("identity = %s/%d", lead.LeadID, lead.UserID)
	}
	if lead.BDScore != 64 {
		t.Errorf("bd_score = %v, want 64", lead.BDScore)
	}
	if lead.ConversionLikelihood != 56 {
		t.Errorf("conversion = %v, want 56", lead.ConversionLikelihood)
	}
	if lead.LeadQuality != store.LeadHot {
		t.Errorf("quality = %q, want hot", lead.LeadQuality)
	}
	if lead.RelationshipStrength != store.RelationshipStrong {
		t.Errorf("relationship = %q, want strong", lead.RelationshipStrength)
	}
	if len(lead.InvestmentKeywords) != 1 || lead.InvestmentKeywords[0] != "funding" {
		t.Errorf("investment keywords = %v", lead.InvestmentKeywords)
	}
}

func TestDemote(t *testing.T) {
	t.Parallel()
	lead := BuildLead(7, 80, Hits{}, store.ContactMessageStats{})
	demoted := Demote(lead, 12)
	if demoted.LeadQuality != store.LeadCold || demoted.Priority != store.PriorityLow {
		t.Errorf("demoted = %s/%s, want cold/low", demoted.LeadQuality, demoted.Priority)
	}
	if demoted.IntelligenceScore != 12 {
		t.Errorf("score = %d, want 12", demoted.IntelligenceScore)
	}
}
