package enrich

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"telegram-bdintel/internal/store"
)

// Слоты follow_up_timing по полосам балла.
const (
	TimingThisWeek    = "this week"
	TimingNextWeek    = "next week"
	TimingComingWeeks = "coming weeks"
)

// ConferenceConnection подбирает правдоподобный контекст знакомства по
// попаданиям таксономии.
func ConferenceConnection(hits Hits) string {
	switch {
	case hits.Has(CatCryptoDefi):
		return "Crypto/DeFi Summit"
	case hits.Has(CatTechnology):
		return "Tech Innovation Conference"
	case hits.Has(CatInvestmentTier1, CatInvestmentTier2):
		return "Investment & VC Summit"
	default:
		return "Business Networking Event"
	}
}

// FollowUpTiming — полоса срочности по баллу.
func FollowUpTiming(score int) string {
	switch {
	case score > 70:
		return TimingThisWeek
	case score > 50:
		return TimingNextWeek
	default:
		return TimingComingWeeks
	}
}

// displayName — обращение в шаблоне: имя, иначе username, иначе нейтральное.
func displayName(c store.Contact) string {
	if c.FirstName != "" {
		return c.FirstName
	}
	if c.Username != "" {
		return "@" + c.Username
	}
	return "there"
}

// ComposeOutreach заполняет поля исходящей коммуникации лида по шаблону,
// выбранному тройкой (инвестиции, партнёрство, технологии). Шаблоны
// детерминированы: одинаковый вход даёт одинаковый текст.
func ComposeOutreach(lead store.Lead, contact store.Contact, hits Hits) store.Lead {
	name := displayName(contact)
	conference := ConferenceConnection(hits)
	topic := hits.First()
	if topic == "" {
		topic = "your work"
	}

	hasInvestment := hits.Has(CatInvestmentTier1, CatInvestmentTier2, CatCryptoDefi)
	hasPartnership := hits.Has(CatBizDev)
	hasTechnical := hits.Has(CatTechnology)

	switch {
	case hasInvestment && hasPartnership:
		lead.PersonalizedMessage = fmt.Sprintf(
			"Hi %s! Great connecting at %s. Your perspective on %s matches an investment partnership we are putting together — would love to compare notes.",
			name, conference, topic)
		lead.MeetingAgenda = "Investment thesis walkthrough, partnership structure, next milestones"
		lead.CallToAction = "Book a 30-minute intro call this week"
	case hasInvestment:
		lead.PersonalizedMessage = fmt.Sprintf(
			"Hi %s! Following up from %s — your interest in %s stood out. We are opening a round and I think the fit is worth a conversation.",
			name, conference, topic)
		lead.MeetingAgenda = "Round overview, traction numbers, terms discussion"
		lead.CallToAction = "Reply with a slot for a quick call"
	case hasTechnical:
		lead.PersonalizedMessage = fmt.Sprintf(
			"Hi %s! We spoke at %s about %s. I have a concrete integration idea I would like to run by you.",
			name, conference, topic)
		lead.MeetingAgenda = "Technical deep dive, integration scope, pilot plan"
		lead.CallToAction = "Share your availability for a technical session"
	default:
		lead.PersonalizedMessage = fmt.Sprintf(
			"Hi %s! It was great meeting you at %s. Your thoughts on %s resonated — let's find a way to work together.",
			name, conference, topic)
		lead.MeetingAgenda = "Mutual introductions, areas of overlap, follow-up plan"
		lead.CallToAction = "Suggest a time for a short call"
	}

	lead.FollowUpTiming = FollowUpTiming(lead.IntelligenceScore)
	return lead
}

// dueDateFor — срок follow-up от приоритета лида.
func dueDateFor(priority string, now time.Time) time.Time {
	switch priority {
	case store.PriorityCritical:
		return now.AddDate(0, 0, 1)
	case store.PriorityHigh:
		return now.AddDate(0, 0, 7)
	default:
		return now.AddDate(0, 0, 30)
	}
}

// BuildFollowUp — строка follow-up для лида. Тип действия отражает срочность.
func BuildFollowUp(lead store.Lead, now time.Time) store.FollowUp {
	action := "outreach"
	if lead.Priority == store.PriorityCritical {
		action = "priority_outreach"
	}
	return store.FollowUp{
		FollowUpID:  uuid.NewString(),
		LeadID:      lead.LeadID,
		ActionType:  action,
		Description: strings.TrimSpace("Send personalized message: " + lead.CallToAction),
		Priority:    lead.Priority,
		DueDate:     dueDateFor(lead.Priority, now),
		Status:      store.FollowUpPending,
		CreatedAt:   now,
	}
}
