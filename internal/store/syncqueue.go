package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// EnqueueSync ставит задачу проекции в очередь. Дедупликация: на одну тройку
// (table, record, op) в очереди живёт не больше одной pending-задачи —
// повторная постановка до начала обработки коллапсирует в уже стоящую.
func (s *Store) EnqueueSync(ctx context.Context, tableName, recordID, operation string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.EnqueueSyncTx(ctx, tx, tableName, recordID, operation)
	})
}

// EnqueueSyncTx — вариант для открытой транзакции (обогащение ставит задачи
// в той же транзакции, что пишет лидов).
func (s *Store) EnqueueSyncTx(ctx context.Context, tx *sql.Tx, tableName, recordID, operation string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_tasks
		WHERE table_name = ? AND record_id = ? AND operation = ? AND state = 'pending'`,
		tableName, recordID, operation).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "check pending sync")
	}
	if exists > 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_tasks (sync_id, table_name, record_id, operation, state, enqueued_at)
		VALUES (?, ?, ?, ?, 'pending', ?)`,
		uuid.NewString(), tableName, recordID, operation, zeroOrUnix(time.Now()))
	return errors.Wrap(err, "enqueue sync")
}

// GetPendingSyncs возвращает pending-задачи в порядке FIFO внутри каждой
// таблицы (table_name, enqueued_at, sync_id) — проектор обрабатывает таблицы
// группами, внутри группы порядок постановки сохраняется.
func (s *Store) GetPendingSyncs(ctx context.Context, limit int) ([]SyncTask, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sync_id, table_name, record_id, operation, state,
			attempts, last_error, enqueued_at, completed_at
		FROM sync_tasks WHERE state = 'pending'
		ORDER BY table_name, enqueued_at, sync_id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "get pending syncs")
	}
	defer rows.Close()

	var out []SyncTask
	for rows.Next() {
		t, scanErr := scanSyncTask(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetSyncTask возвращает задачу по идентификатору или sql.ErrNoRows.
func (s *Store) GetSyncTask(ctx context.Context, syncID string) (SyncTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sync_id, table_name, record_id, operation, state,
			attempts, last_error, enqueued_at, completed_at
		FROM sync_tasks WHERE sync_id = ?`, syncID)
	return scanSyncTask(row)
}

// MarkSyncInProgress переводит pending → in_progress и инкрементирует attempts.
// Задача не в pending не трогается: переходы состояния монотонны.
func (s *Store) MarkSyncInProgress(ctx context.Context, syncID string) error {
	return s.transition(ctx, syncID, `
		UPDATE sync_tasks SET state = 'in_progress', attempts = attempts + 1
		WHERE sync_id = ? AND state = 'pending'`)
}

// MarkSyncCompleted переводит in_progress → completed. Состояние терминально.
func (s *Store) MarkSyncCompleted(ctx context.Context, syncID string) error {
	return s.transition(ctx, syncID, `
		UPDATE sync_tasks SET state = 'completed', last_error = '', completed_at = ?
		WHERE sync_id = ? AND state = 'in_progress'`, zeroOrUnix(time.Now()))
}

// MarkSyncFailed фиксирует исход неудачной попытки. До исчерпания лимита
// попыток задача возвращается в pending на переобработку следующим прогоном;
// после — остаётся в failed насовсем.
func (s *Store) MarkSyncFailed(ctx context.Context, syncID, lastError string, terminal bool) error {
	state := "pending"
	if terminal {
		state = "failed"
	}
	return s.transition(ctx, syncID, `
		UPDATE sync_tasks SET state = ?, last_error = ?
		WHERE sync_id = ? AND state = 'in_progress'`, state, lastError)
}

// MarkSyncConflict переводит in_progress → conflict: целевая строка изменена
// извне, перезаписывать её нельзя до ручного разбора или полной пересинхронизации.
func (s *Store) MarkSyncConflict(ctx context.Context, syncID, detail string) error {
	return s.transition(ctx, syncID, `
		UPDATE sync_tasks SET state = 'conflict', last_error = ?
		WHERE sync_id = ? AND state = 'in_progress'`, detail)
}

// ResetConflicts возвращает conflict-задачи в pending после полной проекции:
// полный прогон перезаписывает целевые таблицы целиком, конфликт снят.
func (s *Store) ResetConflicts(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_tasks SET state = 'pending', last_error = '', attempts = 0
		WHERE state = 'conflict'`)
	if err != nil {
		return 0, errors.Wrap(err, "reset conflicts")
	}
	return res.RowsAffected()
}

// PruneCompletedSyncs удаляет завершённые задачи старше keep. Очередь не
// растёт бесконечно, история недавних прогонов остаётся для диагностики.
func (s *Store) PruneCompletedSyncs(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().Add(-keep)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_tasks WHERE state = 'completed' AND completed_at < ?`,
		zeroOrUnix(cutoff))
	if err != nil {
		return 0, errors.Wrap(err, "prune completed syncs")
	}
	return res.RowsAffected()
}

// transition — общий каркас переходов: предикат по текущему состоянию в WHERE,
// ноль затронутых строк означает недопустимый переход. sync_id — всегда
// последний плейсхолдер запроса.
func (s *Store) transition(ctx context.Context, syncID, query string, extra ...any) error {
	args := append(extra, syncID)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "sync transition")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "sync transition rows")
	}
	if n == 0 {
		return errors.Errorf("sync task %s: transition rejected", syncID)
	}
	return nil
}

func scanSyncTask(r rowScanner) (SyncTask, error) {
	var t SyncTask
	var enq, done int64
	err := r.Scan(&t.SyncID, &t.TableName, &t.RecordID, &t.Operation, &t.State,
		&t.Attempts, &t.LastError, &enq, &done)
	if err != nil {
		return SyncTask{}, err
	}
	t.EnqueuedAt = unixOrZero(enq)
	t.CompletedAt = unixOrZero(done)
	return t, nil
}
