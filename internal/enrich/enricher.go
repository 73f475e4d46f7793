package enrich

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-bdintel/internal/infra/crypto"
	"telegram-bdintel/internal/infra/logger"
	"telegram-bdintel/internal/store"
)

// messageBatchSize — размер транзакции записи обогащения сообщений.
const messageBatchSize = 1000

// Options настраивают прогон обогащения.
type Options struct {
	// Sentiment — стратегия тональности; nil означает лексиконную.
	Sentiment SentimentStrategy
	// Location — таймзона для time_of_day/day_of_week; nil означает UTC.
	Location *time.Location
	// ExcludeUsernames — контакты, для которых follow-up не создаются.
	ExcludeUsernames []string
	// Now — источник времени; nil означает time.Now. Тесты подменяют.
	Now func() time.Time
}

// Report — итоги одного прогона.
type Report struct {
	MessagesEnriched   int
	DecryptFailures    int
	ContactsAggregated int
	LeadsUpserted      int
	LeadsDemoted       int
	FollowUpsCreated   int
	Opportunities      int
	Elapsed            time.Duration
}

// Enricher выполняет стадии обогащения по порядку. Экземпляр не хранит
// состояние прогона и переиспользуем.
type Enricher struct {
	store     *store.Store
	cipher    *crypto.Cipher
	sentiment SentimentStrategy
	loc       *time.Location
	exclude   map[string]bool
	now       func() time.Time
}

// New собирает Enricher поверх хранилища и шифратора.
func New(st *store.Store, cipher *crypto.Cipher, opts Options) *Enricher {
	e := &Enricher{
		store:     st,
		cipher:    cipher,
		sentiment: opts.Sentiment,
		loc:       opts.Location,
		exclude:   make(map[string]bool, len(opts.ExcludeUsernames)),
		now:       opts.Now,
	}
	if e.sentiment == nil {
		e.sentiment = LexiconSentiment{}
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	for _, u := range opts.ExcludeUsernames {
		e.exclude[u] = true
	}
	return e
}

// Run выполняет полный цикл обогащения. Частичный результат при отмене
// консистентен: каждая стадия коммитит транзакциями, перезапуск доделает
// остальное.
func (e *Enricher) Run(ctx context.Context) (Report, error) {
	started := e.now()
	var rep Report

	if err := e.enrichMessages(ctx, &rep); err != nil {
		return rep, err
	}
	if err := e.aggregateContacts(ctx, &rep); err != nil {
		return rep, err
	}
	if err := e.scoreAndQualify(ctx, &rep); err != nil {
		return rep, err
	}

	rep.Elapsed = e.now().Sub(started)
	logger.Info("enrichment run finished",
		zap.Int("messages", rep.MessagesEnriched),
		zap.Int("decrypt_failures", rep.DecryptFailures),
		zap.Int("contacts", rep.ContactsAggregated),
		zap.Int("leads", rep.LeadsUpserted),
		zap.Int("follow_ups", rep.FollowUpsCreated),
		zap.Int("opportunities", rep.Opportunities),
		zap.Duration("elapsed", rep.Elapsed))
	return rep, nil
}

// enrichMessages — стадия посообщностных сигналов. Сообщения с нечитаемым
// шифртекстом пропускаются и считаются; прогон они не прерывают.
func (e *Enricher) enrichMessages(ctx context.Context, rep *Report) error {
	type key struct{ chat, msg int64 }
	skipped := make(map[key]bool)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := e.store.ListUnenriched(ctx, messageBatchSize)
		if err != nil {
			return err
		}

		pending := batch[:0]
		for _, m := range batch {
			if !skipped[key{m.ChatID, m.MessageID}] {
				pending = append(pending, m)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
			for _, m := range pending {
				plaintext, decErr := e.cipher.Decrypt(m.Ciphertext)
				if decErr != nil {
					skipped[key{m.ChatID, m.MessageID}] = true
					rep.DecryptFailures++
					logger.Warnf("skip undecryptable message %d/%d: %v",
						m.ChatID, m.MessageID, decErr)
					continue
				}
				enriched := AnalyzeMessage(m, string(plaintext), e.sentiment, e.loc)
				if err := e.store.UpdateMessageEnrichment(ctx, tx, enriched); err != nil {
					return err
				}
				rep.MessagesEnriched++
			}
			return nil
		})
		if err != nil {
			return err
		}

		if len(batch) < messageBatchSize {
			return nil
		}
	}
}

// aggregateContacts — стадия агрегатов: производные поля контактов, строки
// участников чатов и проекция разговоров перестраиваются заново в одной
// транзакции каждая.
func (e *Enricher) aggregateContacts(ctx context.Context, rep *Report) error {
	parts, err := e.store.ParticipantCounts(ctx)
	if err != nil {
		return err
	}

	participants := make([]store.ChatParticipant, 0, len(parts))
	conversations := make([]store.Conversation, 0, len(parts))
	chats := make(map[int64]bool)
	for _, p := range parts {
		participants = append(participants, store.ChatParticipant{
			ChatID:          p.ChatID,
			UserID:          p.UserID,
			MessageCount:    p.Count,
			FirstSeen:       p.FirstSeen,
			LastSeen:        p.LastSeen,
			EngagementLevel: engagementLevel(p.Count),
		})
		conversations = append(conversations, store.Conversation{
			ChatID:            p.ChatID,
			UserID:            p.UserID,
			MessageCount:      p.Count,
			BusinessRelevance: businessRelevance(p.BusinessCount, p.Count),
			FirstDate:         p.FirstSeen,
			LastDate:          p.LastSeen,
		})
		chats[p.ChatID] = true
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.ReplaceChatParticipants(ctx, tx, participants); err != nil {
			return err
		}
		if err := e.store.ReplaceConversations(ctx, tx, conversations); err != nil {
			return err
		}
		for chatID := range chats {
			if err := e.store.UpdateChatTotals(ctx, tx, chatID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	ids, err := e.store.ContactIDsWithMessages(ctx)
	if err != nil {
		return err
	}
	now := e.now()
	for _, userID := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, err := e.store.ContactStats(ctx, userID, now)
		if err != nil {
			return err
		}
		err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
			if err := e.store.UpdateContactAggregates(ctx, tx, userID,
				st.TotalMessages, st.DistinctChats, activityLevel(st.TotalMessages),
				st.FirstSeen, st.LastSeen); err != nil {
				return err
			}
			return e.store.EnqueueSyncTx(ctx, tx, "contacts",
				strconv.FormatInt(userID, 10), store.SyncOpUpsert)
		})
		if err != nil {
			return err
		}
		rep.ContactsAggregated++
	}
	return nil
}

// scoreAndQualify — стадии скоринга, квалификации, follow-up и воронки для
// каждого контакта с сообщениями.
func (e *Enricher) scoreAndQualify(ctx context.Context, rep *Report) error {
	ids, err := e.store.ContactIDsWithMessages(ctx)
	if err != nil {
		return err
	}
	now := e.now()

	for _, userID := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.qualifyContact(ctx, userID, now, rep); err != nil {
			return errors.Wrapf(err, "qualify contact %d", userID)
		}
	}
	return nil
}

func (e *Enricher) qualifyContact(ctx context.Context, userID int64, now time.Time, rep *Report) error {
	st, err := e.store.ContactStats(ctx, userID, now)
	if err != nil {
		return err
	}
	hits, err := e.contactHits(ctx, userID)
	if err != nil {
		return err
	}
	score := IntelligenceScore(hits, st)
	leadID := store.LeadIDFor(userID)

	existing, err := e.store.GetLead(ctx, leadID)
	hasLead := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if score < LeadThreshold {
		if !hasLead {
			return nil
		}
		demoted := Demote(existing, score)
		rep.LeadsDemoted++
		return e.store.WithTx(ctx, func(tx *sql.Tx) error {
			if err := e.store.UpsertLead(ctx, tx, demoted); err != nil {
				return err
			}
			return e.store.EnqueueSyncTx(ctx, tx, "leads", leadID, store.SyncOpUpsert)
		})
	}

	contact, err := e.store.GetContact(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	lead := BuildLead(userID, score, hits, st)
	followUpWanted := lead.Priority == store.PriorityCritical || lead.Priority == store.PriorityHigh
	if followUpWanted {
		lead = ComposeOutreach(lead, contact, hits)
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.UpsertLead(ctx, tx, lead); err != nil {
			return err
		}
		return e.store.EnqueueSyncTx(ctx, tx, "leads", leadID, store.SyncOpUpsert)
	})
	if err != nil {
		return err
	}
	rep.LeadsUpserted++

	if followUpWanted && !e.exclude[contact.Username] {
		if err := e.ensureFollowUp(ctx, lead, now, rep); err != nil {
			return err
		}
	}
	if QualifiesForOpportunity(lead) {
		if err := e.ensureOpportunity(ctx, lead, hits, now, rep); err != nil {
			return err
		}
	}
	return nil
}

// contactHits собирает отличные попадания таксономии по окну последних
// сообщений контакта. Нечитаемые строки молча пропускаются: пословные метрики
// по ним уже записаны.
func (e *Enricher) contactHits(ctx context.Context, userID int64) (Hits, error) {
	msgs, err := e.store.ListContactMessages(ctx, userID, scoreWindow)
	if err != nil {
		return nil, err
	}
	hits := Hits{}
	for _, m := range msgs {
		plaintext, decErr := e.cipher.Decrypt(m.Ciphertext)
		if decErr != nil {
			continue
		}
		hits.Merge(ScanText(string(plaintext)))
	}
	return hits, nil
}

// ensureFollowUp создаёт follow-up, если незакрытого ещё нет: повторный прогон
// не плодит дубликаты.
func (e *Enricher) ensureFollowUp(ctx context.Context, lead store.Lead, now time.Time, rep *Report) error {
	_, err := e.store.PendingFollowUpForLead(ctx, lead.LeadID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err := e.store.UpsertFollowUp(ctx, nil, BuildFollowUp(lead, now)); err != nil {
		return err
	}
	rep.FollowUpsCreated++
	return nil
}

// ensureOpportunity создаёт возможность или освежает существующую, сохраняя
// её идентичность и стадию.
func (e *Enricher) ensureOpportunity(ctx context.Context, lead store.Lead, hits Hits, now time.Time, rep *Report) error {
	existing, err := e.store.OpportunityForLead(ctx, lead.LeadID)
	if errors.Is(err, sql.ErrNoRows) {
		if err := e.store.UpsertOpportunity(ctx, nil, BuildOpportunity(lead, hits, now)); err != nil {
			return err
		}
		rep.Opportunities++
		return nil
	}
	if err != nil {
		return err
	}

	existing.EstimatedValue = lead.EstimatedValue
	existing.Probability = clampFloat(float64(lead.IntelligenceScore)/100, 0, 1)
	if err := e.store.UpsertOpportunity(ctx, nil, existing); err != nil {
		return err
	}
	rep.Opportunities++
	return nil
}

// activityLevel — уровень активности контакта по общему числу сообщений.
func activityLevel(total int) string {
	switch {
	case total > 100:
		return store.ActivityVeryActive
	case total > 50:
		return store.ActivityActive
	case total > 10:
		return store.ActivityModerate
	default:
		return store.ActivityOccasional
	}
}

// engagementLevel — вовлечённость участника чата по числу его сообщений там.
func engagementLevel(count int) string {
	switch {
	case count > 50:
		return store.EngagementHigh
	case count > 10:
		return store.EngagementMedium
	default:
		return store.EngagementLow
	}
}

// businessRelevance — доля сообщений с бизнес-лексикой в паре (chat, user).
func businessRelevance(business, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(business) / float64(total)
}
