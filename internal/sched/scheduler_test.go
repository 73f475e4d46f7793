package sched

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"

	"telegram-bdintel/internal/infra/config"
	"telegram-bdintel/internal/infra/lock"
	"telegram-bdintel/internal/syncer"
)

// hookCounter считает вызовы и проверяет, что core-задания не пересекаются.
type hookCounter struct {
	ingest, enrich, syncInc, syncFull, backup atomic.Int32

	coreBusy atomic.Bool
	overlap  atomic.Bool

	mu      sync.Mutex
	syncErr error
}

func (h *hookCounter) enterCore(t *testing.T) func() {
	t.Helper()
	if !h.coreBusy.CompareAndSwap(false, true) {
		h.overlap.Store(true)
	}
	return func() { h.coreBusy.Store(false) }
}

func (h *hookCounter) hooks(t *testing.T) Hooks {
	t.Helper()
	return Hooks{
		Ingest: func(ctx context.Context, full bool) error {
			defer h.enterCore(t)()
			h.ingest.Add(1)
			time.Sleep(5 * time.Millisecond)
			return ctx.Err()
		},
		Enrich: func(ctx context.Context) error {
			defer h.enterCore(t)()
			h.enrich.Add(1)
			time.Sleep(5 * time.Millisecond)
			return ctx.Err()
		},
		SyncIncremental: func(context.Context) error {
			h.syncInc.Add(1)
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.syncErr
		},
		SyncFull: func(context.Context) error {
			h.syncFull.Add(1)
			return nil
		},
		Backup: func(context.Context) error {
			h.backup.Add(1)
			return nil
		},
	}
}

func testEnv(t *testing.T) config.EnvConfig {
	t.Helper()
	return config.EnvConfig{
		DataDir:        t.TempDir(),
		AppTimezone:    "UTC",
		IngestInterval: 30 * time.Millisecond,
		EnrichOffset:   10 * time.Millisecond,
		SyncOffset:     15 * time.Millisecond,
		// Суточный прогон далеко в будущем относительно теста.
		SyncTimeHour:   23,
		SyncTimeMinute: 59,
	}
}

func TestRunDispatchesPeriodicJobs(t *testing.T) {
	t.Parallel()

	counter := &hookCounter{}
	s := New(testEnv(t), counter.hooks(t), false)
	s.grace = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Стартовый инжест плюс хотя бы один тик каждого расписания.
	if got := counter.ingest.Load(); got < 2 {
		t.Fatalf("ingest runs = %d, want >= 2", got)
	}
	if counter.enrich.Load() < 1 {
		t.Fatal("enrich never ran")
	}
	if counter.syncInc.Load() < 1 {
		t.Fatal("incremental sync never ran")
	}
	if counter.overlap.Load() {
		t.Fatal("ingest and enrich overlapped on the core worker")
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	// Живой владелец pid-файла — текущий процесс.
	holder := lock.New(filepath.Join(env.DataDir, "core.pid"))
	if err := holder.Acquire(false); err != nil {
		t.Fatalf("holder Acquire: %v", err)
	}
	defer holder.Release()

	counter := &hookCounter{}
	s := New(env, counter.hooks(t), false)

	err := s.Run(context.Background())
	if !errors.Is(err, lock.ErrAlreadyRunning) {
		t.Fatalf("Run error = %v, want ErrAlreadyRunning", err)
	}
}

func TestEnqueueCoalescesDuplicates(t *testing.T) {
	t.Parallel()

	counter := &hookCounter{}
	s := New(testEnv(t), counter.hooks(t), false)

	// Воркеры не запущены: всё поставленное остаётся в очереди.
	s.Enqueue(KindIngest)
	s.Enqueue(KindIngest)
	s.Enqueue(KindIngest)
	s.Enqueue(KindEnrich)

	if got := len(s.coreQueue); got != 2 {
		t.Fatalf("core queue length = %d, want 2 (duplicates coalesced)", got)
	}
}

func TestAuthErrorSuppressesSync(t *testing.T) {
	t.Parallel()

	counter := &hookCounter{}
	counter.syncErr = errors.Wrap(syncer.ErrAuthSink, "403")
	s := New(testEnv(t), counter.hooks(t), false)

	s.execute(context.Background(), Job{Kind: KindSync})
	if counter.syncInc.Load() != 1 {
		t.Fatalf("sync runs = %d, want 1", counter.syncInc.Load())
	}

	// Приостановка: новые sync-задания не ставятся.
	s.Enqueue(KindSync)
	s.Enqueue(KindFull)
	if got := len(s.syncQueue); got != 0 {
		t.Fatalf("sync queue length = %d, want 0 while suppressed", got)
	}

	// core-задания приостановка не затрагивает.
	s.Enqueue(KindIngest)
	if got := len(s.coreQueue); got != 1 {
		t.Fatalf("core queue length = %d, want 1", got)
	}

	s.ResumeSync()
	s.Enqueue(KindSync)
	if got := len(s.syncQueue); got != 1 {
		t.Fatalf("sync queue length after resume = %d, want 1", got)
	}
}

func TestFullJobRunsPipeline(t *testing.T) {
	t.Parallel()

	counter := &hookCounter{}
	s := New(testEnv(t), counter.hooks(t), false)

	s.execute(context.Background(), Job{Kind: KindFull})

	if counter.ingest.Load() != 1 || counter.backup.Load() != 1 || counter.syncFull.Load() != 1 {
		t.Fatalf("full pipeline = ingest %d, backup %d, syncFull %d, want 1/1/1",
			counter.ingest.Load(), counter.backup.Load(), counter.syncFull.Load())
	}
}
