// Package enrich — аналитический конвейер поверх хранилища: посообщностные
// сигналы, агрегаты контактов, скоринг, квалификация лидов, синтез follow-up
// и воронка возможностей. Все стадии детерминированы и безопасно перезапускаемы:
// повторный прогон на неизменных данных даёт побитово те же результаты.
package enrich

import "strings"

// Категории бизнес-таксономии. Набор фиксирован; фразы — строчные, совпадение
// только по целой фразе (последовательности токенов).
const (
	CatInvestmentTier1 = "investment_tier1"
	CatInvestmentTier2 = "investment_tier2"
	CatCryptoDefi      = "crypto_defi"
	CatBizDev          = "business_development"
	CatTechnology      = "technology"
	CatFinServices     = "financial_services"
	CatDecisionMakers  = "decision_makers"
	CatUrgencyTiming   = "urgency_timing"
	CatWealth          = "wealth_indicators"
	CatNetwork         = "network_influence"
	CatPainPoints      = "pain_points"
	CatSolution        = "solution_oriented"
	CatConference      = "conference_events"
)

// categoryOrder задаёт стабильный порядок обхода категорий: от него зависит
// детерминизм списков сигналов и выбор "первого попадания" в шаблонах.
var categoryOrder = []string{
	CatInvestmentTier1, CatInvestmentTier2, CatCryptoDefi,
	CatBizDev, CatTechnology, CatFinServices,
	CatDecisionMakers, CatUrgencyTiming, CatWealth,
	CatNetwork, CatPainPoints, CatSolution, CatConference,
}

// categoryWeights — вклад одного отличного попадания категории в
// intelligence_score. Не перечисленные категории весят 1.
var categoryWeights = map[string]int{
	CatInvestmentTier1: 3,
	CatDecisionMakers:  4,
	CatWealth:          5,
	CatNetwork:         3,
	CatTechnology:      2,
}

// taxonomy — фиксированные наборы фраз по категориям.
var taxonomy = map[string][]string{
	CatInvestmentTier1: {
		"investment", "investor", "invest", "funding", "fundraising",
		"venture capital", "seed round", "series a", "series b",
		"term sheet", "cap table", "valuation", "due diligence", "angel investor",
	},
	CatInvestmentTier2: {
		"portfolio", "equity", "shares", "dividends", "returns",
		"exit strategy", "ipo", "acquisition", "merger", "buyout", "stake",
	},
	CatCryptoDefi: {
		"crypto", "bitcoin", "ethereum", "defi", "blockchain", "token",
		"tokenomics", "smart contract", "staking", "yield farming",
		"liquidity pool", "nft", "web3", "dao", "stablecoin",
	},
	CatBizDev: {
		"partnership", "collaboration", "business", "deal", "contract",
		"proposal", "revenue", "growth", "expansion", "market entry",
		"joint venture", "client", "b2b", "pipeline", "go to market",
	},
	CatTechnology: {
		"api", "platform", "software", "infrastructure", "architecture",
		"machine learning", "artificial intelligence", "automation",
		"backend", "scalability", "cloud", "saas", "data pipeline", "open source",
	},
	CatFinServices: {
		"banking", "fintech", "payments", "lending", "insurance",
		"compliance", "kyc", "aml", "settlement", "custody", "treasury",
	},
	CatDecisionMakers: {
		"ceo", "cto", "cfo", "founder", "co-founder", "managing partner",
		"board member", "director", "head of", "vp", "decision maker", "owner",
	},
	CatUrgencyTiming: {
		"urgent", "urgently", "asap", "deadline", "this week", "today",
		"tomorrow", "right away", "time sensitive", "closing soon", "immediately",
	},
	CatWealth: {
		"portfolio worth", "net worth", "seven figures", "eight figures",
		"family office", "private banking", "yacht", "hnwi", "assets under management",
		"million", "millions",
	},
	CatNetwork: {
		"introduce", "introduction", "connect you", "my network", "referral",
		"mutual friend", "community", "ecosystem", "influencer", "advisory board",
	},
	CatPainPoints: {
		"problem", "issue", "struggling", "bottleneck", "blocker",
		"frustrated", "losing money", "churn", "inefficient", "stuck",
	},
	CatSolution: {
		"solution", "solve", "fix", "improve", "optimize", "streamline",
		"help you", "we can", "proven", "results", "roi",
	},
	CatConference: {
		"conference", "summit", "meetup", "hackathon", "demo day",
		"panel", "keynote", "expo", "networking event", "side event",
	},
}

// Hits — отличные попадания таксономии по категориям для одного корпуса текста.
// Внутри категории фразы идут в порядке определения таксономии.
type Hits map[string][]string

// Categories возвращает категории с хотя бы одним попаданием в стабильном порядке.
func (h Hits) Categories() []string {
	var out []string
	for _, cat := range categoryOrder {
		if len(h[cat]) > 0 {
			out = append(out, cat)
		}
	}
	return out
}

// First возвращает первое попадание в порядке категорий — слот "shared_topic"
// шаблонов follow-up.
func (h Hits) First() string {
	for _, cat := range categoryOrder {
		if phrases := h[cat]; len(phrases) > 0 {
			return phrases[0]
		}
	}
	return ""
}

// Has сообщает, есть ли попадания хотя бы в одной из категорий.
func (h Hits) Has(cats ...string) bool {
	for _, cat := range cats {
		if len(h[cat]) > 0 {
			return true
		}
	}
	return false
}

// Merge добавляет попадания другого корпуса, сохраняя отличность фраз.
func (h Hits) Merge(other Hits) {
	for cat, phrases := range other {
		for _, p := range phrases {
			if !containsString(h[cat], p) {
				h[cat] = append(h[cat], p)
			}
		}
	}
}

// ScanText ищет фразы таксономии в тексте. Совпадение регистронезависимое,
// по целым токенам: "investment" не совпадает внутри "disinvestment".
// Возвращает отличные попадания; повторы фразы в тексте не множатся.
func ScanText(text string) Hits {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Hits{}
	}
	joined := " " + strings.Join(tokens, " ") + " "

	hits := Hits{}
	for _, cat := range categoryOrder {
		for _, phrase := range taxonomy[cat] {
			if strings.Contains(joined, " "+phrase+" ") {
				hits[cat] = append(hits[cat], phrase)
			}
		}
	}
	return hits
}

// ContainsBusinessKeyword — быстрый предикат для колонки сообщения: есть ли
// хоть одно попадание таксономии.
func ContainsBusinessKeyword(text string) bool {
	return len(ScanText(text)) > 0
}

// tokenize приводит текст к строчным токенам, отбрасывая пунктуацию по краям.
// Дефис внутри токена сохраняется ("co-founder").
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !isWordRune(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		return true
	case r >= 'а' && r <= 'я', r == 'ё':
		return true
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
