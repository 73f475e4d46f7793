package store

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func pendingIDs(t *testing.T, s *Store) []string {
	t.Helper()
	tasks, err := s.GetPendingSyncs(context.Background(), 100)
	if err != nil {
		t.Fatalf("GetPendingSyncs: %v", err)
	}
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.SyncID)
	}
	return ids
}

func TestEnqueueSyncDedup(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.EnqueueSync(ctx, "leads", "lead_42", SyncOpUpsert); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	// Другая операция и другая запись — отдельные задачи.
	if err := s.EnqueueSync(ctx, "leads", "lead_42", SyncOpDelete); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	if err := s.EnqueueSync(ctx, "leads", "lead_43", SyncOpUpsert); err != nil {
		t.Fatalf("enqueue other: %v", err)
	}

	if got := pendingIDs(t, s); len(got) != 3 {
		t.Fatalf("pending = %d tasks, want 3 (deduplicated)", len(got))
	}
}

func TestSyncStateMachine(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueSync(ctx, "contacts", "42", SyncOpUpsert); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id := pendingIDs(t, s)[0]

	// completed из pending — недопустимый переход.
	if err := s.MarkSyncCompleted(ctx, id); err == nil {
		t.Fatal("pending -> completed accepted, want rejection")
	}

	if err := s.MarkSyncInProgress(ctx, id); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	task, err := s.GetSyncTask(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.State != SyncInProgress || task.Attempts != 1 {
		t.Fatalf("state/attempts = %s/%d, want in_progress/1", task.State, task.Attempts)
	}

	// Неудача без терминальности возвращает в pending для ретрая.
	if err = s.MarkSyncFailed(ctx, id, "network timeout", false); err != nil {
		t.Fatalf("failed: %v", err)
	}
	task, _ = s.GetSyncTask(ctx, id)
	if task.State != SyncPending || task.LastError != "network timeout" {
		t.Fatalf("state/error = %s/%q, want pending/network timeout", task.State, task.LastError)
	}

	// Вторая попытка доходит до completed; completed терминален.
	if err = s.MarkSyncInProgress(ctx, id); err != nil {
		t.Fatalf("retry in_progress: %v", err)
	}
	if err = s.MarkSyncCompleted(ctx, id); err != nil {
		t.Fatalf("completed: %v", err)
	}
	task, _ = s.GetSyncTask(ctx, id)
	if task.State != SyncCompleted || task.Attempts != 2 || task.CompletedAt.IsZero() {
		t.Fatalf("final = %+v, want completed after 2 attempts", task)
	}
	if err = s.MarkSyncInProgress(ctx, id); err == nil {
		t.Fatal("completed task re-entered in_progress")
	}
}

func TestSyncTerminalFailureAndConflict(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueSync(ctx, "leads", "lead_1", SyncOpUpsert); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueSync(ctx, "leads", "lead_2", SyncOpUpsert); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ids := pendingIDs(t, s)

	if err := s.MarkSyncInProgress(ctx, ids[0]); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	if err := s.MarkSyncFailed(ctx, ids[0], "quota exceeded", true); err != nil {
		t.Fatalf("terminal failure: %v", err)
	}
	task, _ := s.GetSyncTask(ctx, ids[0])
	if task.State != SyncFailed {
		t.Fatalf("state = %s, want failed", task.State)
	}
	// Терминальный отказ выпадает из очереди.
	if err := s.MarkSyncInProgress(ctx, ids[0]); err == nil {
		t.Fatal("terminally failed task re-entered in_progress")
	}

	if err := s.MarkSyncInProgress(ctx, ids[1]); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	if err := s.MarkSyncConflict(ctx, ids[1], "row edited externally"); err != nil {
		t.Fatalf("conflict: %v", err)
	}
	task, _ = s.GetSyncTask(ctx, ids[1])
	if task.State != SyncConflict {
		t.Fatalf("state = %s, want conflict", task.State)
	}

	// Полная проекция снимает конфликты обратно в pending.
	n, err := s.ResetConflicts(ctx)
	if err != nil {
		t.Fatalf("reset conflicts: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset = %d rows, want 1", n)
	}
	task, _ = s.GetSyncTask(ctx, ids[1])
	if task.State != SyncPending || task.Attempts != 0 {
		t.Fatalf("after reset = %s/%d, want pending/0", task.State, task.Attempts)
	}
}

func TestGetPendingSyncsFIFOPerTable(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// enqueued_at имеет секундную гранулярность; порядок внутри одной секунды
	// добивается sync_id, поэтому проверяем группировку по таблицам и полноту.
	seed := []struct{ table, record string }{
		{"leads", "lead_1"},
		{"contacts", "7"},
		{"leads", "lead_2"},
		{"contacts", "8"},
	}
	for _, sd := range seed {
		if err := s.EnqueueSync(ctx, sd.table, sd.record, SyncOpUpsert); err != nil {
			t.Fatalf("enqueue %s/%s: %v", sd.table, sd.record, err)
		}
	}

	tasks, err := s.GetPendingSyncs(ctx, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var tables []string
	for _, task := range tasks {
		if len(tables) == 0 || tables[len(tables)-1] != task.TableName {
			tables = append(tables, task.TableName)
		}
	}
	// Таблицы идут непрерывными группами в алфавитном порядке.
	if want := []string{"contacts", "leads"}; !reflect.DeepEqual(tables, want) {
		t.Fatalf("table groups = %v, want %v", tables, want)
	}
}

func TestPruneCompletedSyncs(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueSync(ctx, "leads", "lead_1", SyncOpUpsert); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id := pendingIDs(t, s)[0]
	if err := s.MarkSyncInProgress(ctx, id); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	if err := s.MarkSyncCompleted(ctx, id); err != nil {
		t.Fatalf("completed: %v", err)
	}

	// Свежезавершённая задача переживает чистку с ненулевым keep.
	n, err := s.PruneCompletedSyncs(ctx, time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 0 {
		t.Fatalf("pruned = %d, want 0", n)
	}

	// Отрицательный keep сдвигает порог в будущее и выметает всё завершённое.
	n, err = s.PruneCompletedSyncs(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
}
