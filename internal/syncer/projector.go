package syncer

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-bdintel/internal/infra/logger"
	"telegram-bdintel/internal/store"
)

const (
	// Политика повторов на транспортных ошибках назначения.
	destinationBackoffInitial = time.Second
	destinationBackoffMax     = 30 * time.Second
	destinationAttempts       = 5

	// maxTaskAttempts — после стольких неудачных попыток задача помечается
	// терминально и требует внимания оператора.
	maxTaskAttempts = 3

	// pendingBatchLimit — максимум задач, разбираемых одним инкрементальным прогоном.
	pendingBatchLimit = 500

	// completedRetention — сколько держать завершённые задачи до зачистки.
	completedRetention = 7 * 24 * time.Hour
)

// fullTables — состав и порядок листов полной выгрузки. Набор фиксирован.
var fullTables = []string{
	TableContacts, TableOrganizations, TableInteractions,
	TableLeads, TableMessages, TableChatGroups, TableDashboard,
}

// Report — итоги инкрементального прогона.
type Report struct {
	Completed int
	Failed    int
	Conflicts int
}

// Projector переносит строки хранилища в табличное назначение.
type Projector struct {
	store *store.Store
	sink  Sink

	// newBackoff строит политику повторов обращения к назначению;
	// в тестах подменяется мгновенной.
	newBackoff func() backoff.BackOff
}

// New собирает проектор поверх хранилища и назначения.
func New(st *store.Store, sink Sink) *Projector {
	return &Projector{
		store:      st,
		sink:       sink,
		newBackoff: destinationBackoff,
	}
}

// destinationBackoff — экспоненциальная пауза между попытками записи.
func destinationBackoff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = destinationBackoffInitial
	policy.MaxInterval = destinationBackoffMax
	policy.MaxElapsedTime = 0
	return policy
}

// FullSync перезаписывает все листы назначения текущим состоянием хранилища,
// после чего возвращает конфликтные задачи в очередь (их строки только что
// выгружены заново) и зачищает старые завершённые.
func (p *Projector) FullSync(ctx context.Context) error {
	for _, table := range fullTables {
		header, rows, err := p.renderTable(ctx, table)
		if err != nil {
			return err
		}
		if err = p.withRetry(ctx, func() error {
			return p.sink.ReplaceTable(ctx, table, header, rows)
		}); err != nil {
			return errors.Wrapf(err, "replace %s", table)
		}
		logger.Debug("table projected", zap.String("table", table), zap.Int("rows", len(rows)))
	}

	reset, err := p.store.ResetConflicts(ctx)
	if err != nil {
		return err
	}
	pruned, err := p.store.PruneCompletedSyncs(ctx, completedRetention)
	if err != nil {
		return err
	}
	logger.Logger().Info("full sync finished",
		zap.String("sink", p.sink.Name()),
		zap.Int64("conflicts_reset", reset),
		zap.Int64("tasks_pruned", pruned),
	)
	return nil
}

// IncrementalSync разбирает очередь задач: pending в порядке FIFO по таблицам.
// Ошибка авторизации назначения прерывает прогон; остальные неудачи локальны
// для задачи.
func (p *Projector) IncrementalSync(ctx context.Context) (Report, error) {
	var rep Report

	tasks, err := p.store.GetPendingSyncs(ctx, pendingBatchLimit)
	if err != nil {
		return rep, err
	}

	for _, task := range tasks {
		if err = ctx.Err(); err != nil {
			return rep, err
		}
		switch err = p.processTask(ctx, task); {
		case err == nil:
			rep.Completed++
		case errors.Is(err, ErrAuthSink):
			rep.Failed++
			return rep, err
		case errors.Is(err, errTaskConflict):
			rep.Conflicts++
		default:
			rep.Failed++
			logger.Warnf("sync task %s (%s/%s) failed: %v",
				task.SyncID, task.TableName, task.RecordID, err)
		}
	}

	if rep.Completed+rep.Failed+rep.Conflicts > 0 {
		logger.Logger().Info("incremental sync finished",
			zap.Int("completed", rep.Completed),
			zap.Int("failed", rep.Failed),
			zap.Int("conflicts", rep.Conflicts),
		)
	}
	return rep, nil
}

// errTaskConflict — внутренний маркер: задача ушла в состояние conflict.
var errTaskConflict = errors.New("sync task conflict")

func (p *Projector) processTask(ctx context.Context, task store.SyncTask) error {
	if err := p.store.MarkSyncInProgress(ctx, task.SyncID); err != nil {
		return err
	}
	attempt := task.Attempts + 1

	header, key, row, found, err := p.renderRecord(ctx, task)
	if err != nil {
		// Неразбираемая задача (чужая таблица, битый record_id) не станет
		// лучше от повторов.
		if markErr := p.store.MarkSyncFailed(ctx, task.SyncID, err.Error(), true); markErr != nil {
			return markErr
		}
		return err
	}

	if task.Operation == store.SyncOpDelete || !found {
		if err = p.withRetry(ctx, func() error {
			return p.sink.DeleteRow(ctx, task.TableName, key)
		}); err != nil {
			return p.failTask(ctx, task.SyncID, attempt, err)
		}
		return p.store.MarkSyncCompleted(ctx, task.SyncID)
	}

	var result UpsertResult
	if err = p.withRetry(ctx, func() error {
		var upsertErr error
		result, upsertErr = p.sink.UpsertRow(ctx, task.TableName, header, key, row)
		return upsertErr
	}); err != nil {
		return p.failTask(ctx, task.SyncID, attempt, err)
	}

	if result.Conflict {
		detail := "destination row edited externally"
		if !result.ExternalModified.IsZero() {
			detail += " at " + result.ExternalModified.UTC().Format(timestampLayout)
		}
		if err = p.store.MarkSyncConflict(ctx, task.SyncID, detail); err != nil {
			return err
		}
		return errTaskConflict
	}
	return p.store.MarkSyncCompleted(ctx, task.SyncID)
}

// failTask записывает исход неудачной попытки: ошибки авторизации терминальны
// сразу, прочие — после maxTaskAttempts попыток.
func (p *Projector) failTask(ctx context.Context, syncID string, attempt int, cause error) error {
	terminal := attempt >= maxTaskAttempts || errors.Is(cause, ErrAuthSink)
	if err := p.store.MarkSyncFailed(ctx, syncID, cause.Error(), terminal); err != nil {
		return err
	}
	if errors.Is(cause, ErrAuthSink) {
		return ErrAuthSink
	}
	return cause
}

// renderRecord готовит строку назначения для инкрементальной задачи.
// found=false — строки больше нет в хранилище (равносильно удалению).
// Идентификатор записи: у contacts — числовой user_id, у leads — lead_<id>;
// ключ строки в обоих листах — user_id.
func (p *Projector) renderRecord(ctx context.Context, task store.SyncTask) (header []string, key string, row []string, found bool, err error) {
	recordID := task.RecordID
	switch task.TableName {
	case TableContacts:
	case TableLeads:
		recordID = strings.TrimPrefix(recordID, "lead_")
	default:
		return nil, "", nil, false, errors.Errorf("unsupported sync table %q", task.TableName)
	}

	userID, err := strconv.ParseInt(recordID, 10, 64)
	if err != nil {
		return nil, "", nil, false, errors.Errorf("record id %q is not a user id", task.RecordID)
	}
	key = recordID

	contact, err := p.store.GetContact(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return contactHeader, key, nil, false, nil
	}
	if err != nil {
		return nil, "", nil, false, err
	}

	lead, err := p.store.GetLead(ctx, store.LeadIDFor(userID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if task.TableName == TableLeads {
			// Лид уже снят: для листа leads это удаление строки.
			return contactHeader, key, nil, false, nil
		}
		return contactHeader, key, contactRow(contact, nil), true, nil
	case err != nil:
		return nil, "", nil, false, err
	}
	return contactHeader, key, contactRow(contact, &lead), true, nil
}

// renderTable собирает полный состав листа для полной выгрузки.
func (p *Projector) renderTable(ctx context.Context, table string) ([]string, [][]string, error) {
	switch table {
	case TableContacts:
		return p.renderContacts(ctx, false)
	case TableLeads:
		return p.renderContacts(ctx, true)
	case TableOrganizations:
		return p.renderOrganizations(ctx)
	case TableInteractions:
		return p.renderInteractions(ctx)
	case TableMessages:
		return p.renderMessages(ctx)
	case TableChatGroups:
		return p.renderChatGroups(ctx)
	case TableDashboard:
		return p.renderDashboard(ctx)
	default:
		return nil, nil, errors.Errorf("unknown projection table %q", table)
	}
}

// renderContacts строит лист contacts (все контакты) или leads (только
// квалифицированные), в одном и том же порядке колонок.
func (p *Projector) renderContacts(ctx context.Context, leadsOnly bool) ([]string, [][]string, error) {
	contacts, err := p.store.ListContacts(ctx)
	if err != nil {
		return nil, nil, err
	}
	leads, err := p.store.ListLeads(ctx)
	if err != nil {
		return nil, nil, err
	}
	byUser := make(map[int64]store.Lead, len(leads))
	for _, l := range leads {
		byUser[l.UserID] = l
	}

	rows := make([][]string, 0, len(contacts))
	if leadsOnly {
		contactByID := make(map[int64]store.Contact, len(contacts))
		for _, c := range contacts {
			contactByID[c.UserID] = c
		}
		// Порядок листа leads — по убыванию скоринга, как отдаёт ListLeads.
		for _, l := range leads {
			rows = append(rows, leadRow(contactByID[l.UserID], l))
		}
		return contactHeader, rows, nil
	}

	for _, c := range contacts {
		if l, ok := byUser[c.UserID]; ok {
			rows = append(rows, contactRow(c, &l))
			continue
		}
		rows = append(rows, contactRow(c, nil))
	}
	return contactHeader, rows, nil
}

func (p *Projector) renderOrganizations(ctx context.Context) ([]string, [][]string, error) {
	opportunities, err := p.store.ListOpportunities(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows := make([][]string, 0, len(opportunities))
	for _, o := range opportunities {
		rows = append(rows, organizationRow(o))
	}
	return organizationHeader, rows, nil
}

func (p *Projector) renderInteractions(ctx context.Context) ([]string, [][]string, error) {
	conversations, err := p.store.ListConversations(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows := make([][]string, 0, len(conversations))
	for _, c := range conversations {
		rows = append(rows, interactionRow(c))
	}
	return interactionHeader, rows, nil
}

func (p *Projector) renderMessages(ctx context.Context) ([]string, [][]string, error) {
	messages, err := p.store.ListMessagesMeta(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	rows := make([][]string, 0, len(messages))
	for _, m := range messages {
		rows = append(rows, messageRow(m))
	}
	return messageHeader, rows, nil
}

func (p *Projector) renderChatGroups(ctx context.Context) ([]string, [][]string, error) {
	chats, err := p.store.ListChats(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows := make([][]string, 0, len(chats))
	for _, c := range chats {
		rows = append(rows, chatGroupRow(c))
	}
	return chatGroupHeader, rows, nil
}

// renderDashboard синтезирует сводный лист: счётчики хранилища плюс срез
// пайплайна по лидам.
func (p *Projector) renderDashboard(ctx context.Context) ([]string, [][]string, error) {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return nil, nil, err
	}
	leads, err := p.store.ListLeads(ctx)
	if err != nil {
		return nil, nil, err
	}

	var pipelineValue float64
	quality := map[string]int{}
	for _, l := range leads {
		pipelineValue += l.EstimatedValue
		quality[l.LeadQuality]++
	}

	rows := [][]string{
		{"contacts", strconv.FormatInt(stats.Contacts, 10)},
		{"chats", strconv.FormatInt(stats.Chats, 10)},
		{"messages", strconv.FormatInt(stats.Messages, 10)},
		{"messages_enriched", strconv.FormatInt(stats.Enriched, 10)},
		{"leads", strconv.FormatInt(stats.Leads, 10)},
		{"leads_hot", formatInt(quality[store.LeadHot])},
		{"leads_warm", formatInt(quality[store.LeadWarm])},
		{"leads_cold", formatInt(quality[store.LeadCold])},
		{"pipeline_value", formatMoney(pipelineValue)},
		{"follow_ups", strconv.FormatInt(stats.FollowUps, 10)},
		{"sync_pending", strconv.FormatInt(stats.PendingSyncs, 10)},
		{"sync_failed", strconv.FormatInt(stats.FailedSyncs, 10)},
	}
	return dashboardHeader, rows, nil
}

// withRetry выполняет обращение к назначению с экспоненциальным бэкофом.
// Ошибки авторизации и отменённый контекст не ретраятся.
func (p *Projector) withRetry(ctx context.Context, fn func() error) error {
	policy := p.newBackoff()

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAuthSink) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, destinationAttempts-1), ctx))
}
