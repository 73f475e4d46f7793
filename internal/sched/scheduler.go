// Пакет sched — планировщик конвейера. Владеет pid-блокировкой процесса,
// периодическими заданиями (инжест, обогащение, синхронизация) и суточным
// полным прогоном. Задания исполняются двумя воркерами: инжест и обогащение
// сериализуются на одном, синхронизация живёт на втором и может идти
// параллельно инжесту.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-bdintel/internal/infra/config"
	"telegram-bdintel/internal/infra/lock"
	"telegram-bdintel/internal/infra/logger"
	"telegram-bdintel/internal/infra/timeutil"
	"telegram-bdintel/internal/syncer"
)

// Kind — вид задания планировщика.
type Kind string

const (
	// KindIngest — инкрементальный инжест новых сообщений.
	KindIngest Kind = "ingest"
	// KindEnrich — прогон обогащения.
	KindEnrich Kind = "enrich"
	// KindSync — инкрементальная синхронизация очереди проекции.
	KindSync Kind = "sync"
	// KindFull — суточный полный прогон: полный инжест, бэкап базы,
	// полная пересинхронизация.
	KindFull Kind = "full"
)

const (
	// queueSize — ёмкость каждой очереди заданий. Переполнение означает,
	// что воркер безнадёжно отстал; лишние задания отбрасываются с warning.
	queueSize = 16

	// defaultGrace — сколько ждать завершения заданий после сигнала остановки.
	defaultGrace = 30 * time.Second
)

// Job — единица работы в очереди.
type Job struct {
	Kind Kind
}

// Hooks — действия, которые планировщик умеет запускать. Все обязаны уважать
// отмену контекста: это единственный механизм остановки заданий.
type Hooks struct {
	// Ingest тянет историю диалогов; full=true игнорирует вотермарки.
	Ingest func(ctx context.Context, full bool) error
	// Enrich выполняет полный прогон обогащения.
	Enrich func(ctx context.Context) error
	// SyncIncremental разбирает очередь задач проекции.
	SyncIncremental func(ctx context.Context) error
	// SyncFull перезаписывает все таблицы назначения.
	SyncFull func(ctx context.Context) error
	// Backup снимает копию базы перед полной пересинхронизацией.
	Backup func(ctx context.Context) error
}

// Scheduler владеет расписанием и pid-блокировкой. Создаётся один на процесс.
type Scheduler struct {
	env   config.EnvConfig
	hooks Hooks
	lock  *lock.PidLock
	force bool
	grace time.Duration

	coreQueue chan Job // инжест + обогащение, строго по одному
	syncQueue chan Job // синхронизация, сериализована сама с собой

	mu             sync.Mutex
	pending        map[Kind]bool
	syncSuppressed bool
}

// New собирает планировщик. force прокидывается в захват pid-блокировки.
func New(env config.EnvConfig, hooks Hooks, force bool) *Scheduler {
	return &Scheduler{
		env:       env,
		hooks:     hooks,
		lock:      lock.New(env.PidPath()),
		force:     force,
		grace:     defaultGrace,
		coreQueue: make(chan Job, queueSize),
		syncQueue: make(chan Job, queueSize),
		pending:   make(map[Kind]bool),
	}
}

// Run захватывает блокировку и крутит расписание до отмены контекста.
// Возвращает lock.ErrAlreadyRunning, если живой экземпляр уже работает.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.lock.Acquire(s.force); err != nil {
		return err
	}
	defer s.lock.Release()

	var wg sync.WaitGroup
	wg.Add(2) //nolint:mnd // два воркера: core и sync
	go func() {
		defer wg.Done()
		s.worker(ctx, s.coreQueue)
	}()
	go func() {
		defer wg.Done()
		s.worker(ctx, s.syncQueue)
	}()

	// Первый инжест сразу: свежеподнятый процесс не ждёт часа до первых данных.
	s.Enqueue(KindIngest)

	s.dispatchLoop(ctx)

	// Изящная остановка: диспетчеризация прекращена, контекст заданий уже
	// отменён; даём воркерам срок на коммит или откат.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("scheduler drained cleanly")
	case <-time.After(s.grace):
		logger.Warn("scheduler drain exceeded grace period", zap.Duration("grace", s.grace))
	}
	return nil
}

// dispatchLoop раздаёт задания по таймерам до отмены контекста.
func (s *Scheduler) dispatchLoop(ctx context.Context) {
	interval := s.env.IngestInterval

	ingestTicker := time.NewTicker(interval)
	defer ingestTicker.Stop()

	// Обогащение и синхронизация идут с тем же периодом, но со сдвигом
	// относительно инжеста: к их запуску свежие данные уже в базе.
	enrichTimer := time.NewTimer(s.env.EnrichOffset)
	defer enrichTimer.Stop()
	syncTimer := time.NewTimer(s.env.SyncOffset)
	defer syncTimer.Stop()

	loc := s.env.Location()
	daily := time.NewTimer(time.Until(timeutil.NextOccurrence(time.Now(), s.env.SyncTimeHour, s.env.SyncTimeMinute, loc)))
	defer daily.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ingestTicker.C:
			s.Enqueue(KindIngest)
		case <-enrichTimer.C:
			s.Enqueue(KindEnrich)
			enrichTimer.Reset(interval)
		case <-syncTimer.C:
			s.Enqueue(KindSync)
			syncTimer.Reset(interval)
		case <-daily.C:
			s.Enqueue(KindFull)
			daily.Reset(time.Until(timeutil.NextOccurrence(time.Now(), s.env.SyncTimeHour, s.env.SyncTimeMinute, loc)))
		}
	}
}

// Enqueue ставит задание в очередь своего воркера. Дубликат ещё не начатого
// задания того же вида коалесцируется в уже стоящее.
func (s *Scheduler) Enqueue(kind Kind) {
	s.mu.Lock()
	if s.pending[kind] {
		s.mu.Unlock()
		logger.Debugf("job %s already pending, coalesced", kind)
		return
	}
	if s.isSyncKind(kind) && s.syncSuppressed {
		s.mu.Unlock()
		logger.Debugf("sync suppressed, job %s skipped", kind)
		return
	}
	s.pending[kind] = true
	s.mu.Unlock()

	queue := s.coreQueue
	if s.isSyncKind(kind) {
		queue = s.syncQueue
	}
	select {
	case queue <- Job{Kind: kind}:
	default:
		// Очередь полна: воркер отстал на порядок. Следующий тик повторит.
		s.clearPending(kind)
		logger.Warnf("job queue full, dropped %s", kind)
	}
}

// isSyncKind отделяет задания sync-воркера от core-воркера.
// Полный прогон включает полную пересинхронизацию, поэтому живёт на sync-воркере:
// инкрементальный инжест может идти параллельно.
func (s *Scheduler) isSyncKind(kind Kind) bool {
	return kind == KindSync || kind == KindFull
}

func (s *Scheduler) clearPending(kind Kind) {
	s.mu.Lock()
	delete(s.pending, kind)
	s.mu.Unlock()
}

// worker последовательно исполняет задания одной очереди.
func (s *Scheduler) worker(ctx context.Context, queue chan Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-queue:
			s.clearPending(job.Kind)
			s.execute(ctx, job)
		}
	}
}

// execute запускает задание и разбирает исход. Ошибка авторизации назначения
// приостанавливает дальнейшую синхронизацию до вмешательства оператора.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	start := time.Now()
	var err error
	switch job.Kind {
	case KindIngest:
		err = s.hooks.Ingest(ctx, false)
	case KindEnrich:
		err = s.hooks.Enrich(ctx)
	case KindSync:
		err = s.hooks.SyncIncremental(ctx)
	case KindFull:
		err = s.runFull(ctx)
	}

	switch {
	case err == nil:
		logger.Logger().Info("job finished",
			zap.String("kind", string(job.Kind)),
			zap.Duration("took", time.Since(start)),
		)
	case errors.Is(err, context.Canceled):
		logger.Infof("job %s cancelled", job.Kind)
	case errors.Is(err, syncer.ErrAuthSink):
		s.suppressSync()
		logger.Errorf("job %s: destination rejected credentials, sync suspended until operator action", job.Kind)
	default:
		logger.Errorf("job %s failed: %v", job.Kind, err)
	}
}

// runFull — суточный полный прогон: бэкап базы, полный инжест истории,
// полная пересинхронизация назначения.
func (s *Scheduler) runFull(ctx context.Context) error {
	if err := s.hooks.Backup(ctx); err != nil {
		// Неудачный бэкап не блокирует прогон, но требует внимания.
		logger.Errorf("database backup failed: %v", err)
	}
	if err := s.hooks.Ingest(ctx, true); err != nil {
		return errors.Wrap(err, "full ingest")
	}
	if err := s.hooks.SyncFull(ctx); err != nil {
		return errors.Wrap(err, "full sync")
	}
	return nil
}

func (s *Scheduler) suppressSync() {
	s.mu.Lock()
	s.syncSuppressed = true
	s.mu.Unlock()
}

// ResumeSync снимает приостановку синхронизации после того, как оператор
// починил учётные данные назначения.
func (s *Scheduler) ResumeSync() {
	s.mu.Lock()
	resumed := s.syncSuppressed
	s.syncSuppressed = false
	s.mu.Unlock()
	if resumed {
		logger.Info("sync resumed by operator")
	}
}
