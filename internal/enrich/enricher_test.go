package enrich

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-faster/errors"

	"telegram-bdintel/internal/infra/crypto"
	"telegram-bdintel/internal/store"
)

// testClock — фиксированный момент времени для детерминированных агрегатов.
var testClock = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	raw, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c, err := crypto.NewCipher(crypto.EncodeKey(raw))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func encryptText(t *testing.T, c *crypto.Cipher, text string) []byte {
	t.Helper()
	ct, err := c.Encrypt([]byte(text))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return ct
}

func seedDialog(t *testing.T, s *store.Store, c *crypto.Cipher, chatID, userID int64, texts []string, dates []time.Time) {
	t.Helper()
	if err := s.UpsertContact(context.Background(), store.Contact{
		UserID: userID, Username: "alice", FirstName: "Alice",
	}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	if err := s.UpsertChat(context.Background(), store.Chat{
		ChatID: chatID, ChatType: store.ChatTypePrivate, Title: "Alice",
	}); err != nil {
		t.Fatalf("seed chat: %v", err)
	}

	batch := make([]store.Message, 0, len(texts))
	for i, text := range texts {
		batch = append(batch, store.Message{
			ChatID: chatID, MessageID: int64(i + 1), FromUserID: userID,
			Date: dates[i], Ciphertext: encryptText(t, c, text), MessageType: "text",
		})
	}
	if _, err := s.UpsertMessages(context.Background(), batch); err != nil {
		t.Fatalf("seed messages: %v", err)
	}
}

func runEnricher(t *testing.T, s *store.Store, c *crypto.Cipher, opts Options) Report {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return testClock }
	}
	rep, err := New(s, c, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("enrich run: %v", err)
	}
	return rep
}

func TestColdStartBelowThreshold(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	c := newTestCipher(t)
	ctx := context.Background()

	seedDialog(t, s, c, 100, 42,
		[]string{"hi", "need investment urgently", "call me tomorrow"},
		[]time.Time{
			testClock.AddDate(0, 0, -3),
			testClock.AddDate(0, 0, -2),
			testClock.AddDate(0, 0, -1),
		})

	rep := runEnricher(t, s, c, Options{})
	if rep.MessagesEnriched != 3 {
		t.Fatalf("enriched = %d, want 3", rep.MessagesEnriched)
	}

	// Второе сообщение несёт бизнес-лексику.
	m, err := s.GetMessage(ctx, 100, 2)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if !m.ContainsBusinessKeywords {
		t.Error("message 2 not flagged as business")
	}

	// Балл ниже порога — лид не создаётся.
	if _, err = s.GetLead(ctx, "lead_42"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("lead below threshold exists: %v", err)
	}

	contact, err := s.GetContact(ctx, 42)
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if contact.TotalMessages != 3 || contact.TotalChats != 1 {
		t.Errorf("aggregates = %d msgs / %d chats, want 3/1", contact.TotalMessages, contact.TotalChats)
	}
	if contact.ActivityLevel != store.ActivityOccasional {
		t.Errorf("activity = %q, want occasional", contact.ActivityLevel)
	}
}

func TestLeadCrossesThreshold(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	c := newTestCipher(t)
	ctx := context.Background()

	// Стартовые три сообщения старше месяца, затем 200 бизнес-сообщений
	// за последние 30 дней.
	texts := []string{"hi", "need investment urgently", "call me tomorrow"}
	dates := []time.Time{
		testClock.AddDate(0, -2, 0),
		testClock.AddDate(0, -2, 1),
		testClock.AddDate(0, -2, 2),
	}
	for i := 0; i < 200; i++ {
		texts = append(texts, "let's discuss the partnership numbers")
		dates = append(dates, testClock.AddDate(0, 0, -25).Add(time.Duration(i)*time.Minute))
	}
	seedDialog(t, s, c, 100, 42, texts, dates)

	runEnricher(t, s, c, Options{})

	lead, err := s.GetLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("lead not created: %v", err)
	}
	if lead.IntelligenceScore < 55 {
		t.Errorf("score = %d, want >= 55", lead.IntelligenceScore)
	}
	if lead.LeadQuality != store.LeadWarm || lead.Priority != store.PriorityMedium {
		t.Errorf("tier = %s/%s, want warm/medium", lead.LeadQuality, lead.Priority)
	}
}

func TestEnrichmentDeterministic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	c := newTestCipher(t)
	ctx := context.Background()

	texts := []string{
		"our ceo wants an introduction to your fund",
		"the api integration is ready, великолепно",
		"need funding for the expansion asap",
	}
	dates := []time.Time{
		testClock.AddDate(0, 0, -10),
		testClock.AddDate(0, 0, -9),
		testClock.AddDate(0, 0, -8),
	}
	seedDialog(t, s, c, 100, 42, texts, dates)

	runEnricher(t, s, c, Options{})
	first, err := s.GetLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("first run lead: %v", err)
	}

	// Повторный прогон на неизменных данных — побитово те же оценки.
	runEnricher(t, s, c, Options{})
	second, err := s.GetLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("second run lead: %v", err)
	}

	if first.IntelligenceScore != second.IntelligenceScore ||
		first.BDScore != second.BDScore ||
		first.ConversionLikelihood != second.ConversionLikelihood ||
		first.EstimatedValue != second.EstimatedValue {
		t.Errorf("scores drifted between runs:\n first %+v\nsecond %+v", first, second)
	}
}

func TestDemotionKeepsRow(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	c := newTestCipher(t)
	ctx := context.Background()

	seedDialog(t, s, c, 100, 42,
		[]string{"just a plain hello"},
		[]time.Time{testClock.AddDate(0, 0, -1)})

	// Лид существует с прежних времён, но текущий корпус его не поддерживает.
	if err := s.UpsertLead(ctx, nil, store.Lead{
		LeadID: "lead_42", UserID: 42, IntelligenceScore: 70,
		LeadQuality: store.LeadWarm, Priority: store.PriorityHigh,
	}); err != nil {
		t.Fatalf("preexisting lead: %v", err)
	}

	rep := runEnricher(t, s, c, Options{})
	if rep.LeadsDemoted != 1 {
		t.Fatalf("demoted = %d, want 1", rep.LeadsDemoted)
	}

	lead, err := s.GetLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("lead deleted on demotion: %v", err)
	}
	if lead.LeadQuality != store.LeadCold || lead.Priority != store.PriorityLow {
		t.Errorf("demoted tier = %s/%s, want cold/low", lead.LeadQuality, lead.Priority)
	}
}

func TestDecryptPoisonRowSkipped(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	c := newTestCipher(t)
	ctx := context.Background()

	seedDialog(t, s, c, 100, 42,
		[]string{"first message", "second message"},
		[]time.Time{testClock.AddDate(0, 0, -2), testClock.AddDate(0, 0, -1)})

	// Третья строка — битый шифртекст.
	if _, err := s.UpsertMessages(ctx, []store.Message{{
		ChatID: 100, MessageID: 3, FromUserID: 42,
		Date: testClock, Ciphertext: []byte("garbage"), MessageType: "text",
	}}); err != nil {
		t.Fatalf("seed poison: %v", err)
	}

	rep := runEnricher(t, s, c, Options{})
	if rep.DecryptFailures != 1 {
		t.Errorf("decrypt failures = %d, want 1", rep.DecryptFailures)
	}
	if rep.MessagesEnriched != 2 {
		t.Errorf("enriched = %d, want 2 (poison skipped)", rep.MessagesEnriched)
	}

	// Остальные строки обработаны.
	m, err := s.GetMessage(ctx, 100, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !m.Enriched {
		t.Error("healthy message left unenriched")
	}
}

func TestHotLeadGetsFollowUpAndOpportunity(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	c := newTestCipher(t)
	ctx := context.Background()

	// Корпус с сигналами всех тяжёлых категорий + объём.
	texts := []string{
		"our ceo and founder want to discuss the investment",
		"family office with serious net worth behind us",
		"happy to introduce you to my network and community",
		"the partnership proposal and term sheet are ready",
		"we run a defi platform with smart contract automation",
	}
	dates := make([]time.Time, 0, 60)
	for i := 0; i < len(texts); i++ {
		dates = append(dates, testClock.AddDate(0, 0, -10).Add(time.Duration(i)*time.Hour))
	}
	for i := 0; i < 55; i++ {
		texts = append(texts, fmt.Sprintf("deal update %d: revenue growth is great", i))
		dates = append(dates, testClock.AddDate(0, 0, -5).Add(time.Duration(i)*time.Minute))
	}
	seedDialog(t, s, c, 100, 42, texts, dates)

	rep := runEnricher(t, s, c, Options{})

	lead, err := s.GetLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("lead: %v", err)
	}
	if lead.LeadQuality != store.LeadHot {
		t.Fatalf("quality = %q (score %d), want hot", lead.LeadQuality, lead.IntelligenceScore)
	}
	if lead.PersonalizedMessage == "" || lead.CallToAction == "" {
		t.Error("outreach fields empty for critical lead")
	}
	if lead.FollowUpTiming != TimingThisWeek {
		t.Errorf("timing = %q, want %q", lead.FollowUpTiming, TimingThisWeek)
	}

	if rep.FollowUpsCreated != 1 {
		t.Fatalf("follow-ups = %d, want 1", rep.FollowUpsCreated)
	}
	fu, err := s.PendingFollowUpForLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	if fu.Priority != store.PriorityCritical {
		t.Errorf("follow-up priority = %q, want critical", fu.Priority)
	}
	if want := testClock.AddDate(0, 0, 1); !fu.DueDate.Equal(want) {
		t.Errorf("due date = %v, want %v (+1d for critical)", fu.DueDate, want)
	}

	opp, err := s.OpportunityForLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("opportunity: %v", err)
	}
	if opp.Stage != store.StageQualification {
		t.Errorf("stage = %q, want qualification", opp.Stage)
	}
	if opp.Probability != float64(lead.IntelligenceScore)/100 {
		t.Errorf("probability = %v, want %v", opp.Probability, float64(lead.IntelligenceScore)/100)
	}
	if len(opp.NextSteps) != 3 {
		t.Errorf("next steps = %d items, want 3", len(opp.NextSteps))
	}

	// Повторный прогон не плодит follow-up и возможности.
	rep = runEnricher(t, s, c, Options{})
	if rep.FollowUpsCreated != 0 {
		t.Errorf("re-run created %d follow-ups, want 0", rep.FollowUpsCreated)
	}
	all, err := s.ListFollowUps(ctx, "")
	if err != nil {
		t.Fatalf("list follow-ups: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("follow-up rows = %d, want 1", len(all))
	}
}

func TestFollowUpExclusionList(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	c := newTestCipher(t)
	ctx := context.Background()

	texts := []string{
		"our ceo and founder want to discuss the investment",
		"family office with serious net worth behind us",
		"happy to introduce you to my network",
	}
	dates := []time.Time{
		testClock.AddDate(0, 0, -3),
		testClock.AddDate(0, 0, -2),
		testClock.AddDate(0, 0, -1),
	}
	for i := 0; i < 55; i++ {
		texts = append(texts, "partnership revenue deal growth")
		dates = append(dates, testClock.AddDate(0, 0, -5).Add(time.Duration(i)*time.Minute))
	}
	seedDialog(t, s, c, 100, 42, texts, dates)

	rep := runEnricher(t, s, c, Options{ExcludeUsernames: []string{"alice"}})
	if rep.FollowUpsCreated != 0 {
		t.Errorf("excluded contact got %d follow-ups, want 0", rep.FollowUpsCreated)
	}
	// Лид при этом создаётся: исключение касается только исходящей работы.
	if _, err := s.GetLead(ctx, "lead_42"); err != nil {
		t.Errorf("lead missing for excluded contact: %v", err)
	}
}
