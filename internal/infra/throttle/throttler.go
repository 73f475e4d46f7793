// Package throttle — общий механизм ограничения скорости и повторных попыток
// для внешних интеграций (Telegram API, табличное назначение выгрузки).
// В основе — токен-бакет (RPS + burst) и экспоненциальный бэкоф с джиттером.
// Серверные указания подождать (FLOOD_WAIT, retry_after) поддерживаются через
// настраиваемые WaitExtractor. Троттлер потокобезопасен: Do может вызываться
// параллельно; Start/Stop идемпотентны.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// defaultBurstFactor задаёт burst по умолчанию как кратный rate.
const defaultBurstFactor = 2

// WaitExtractor анализирует ошибку и, если распознал её формат, возвращает
// длительность обязательной паузы. Экстракторы опрашиваются в порядке
// регистрации; первый совпавший определяет паузу перед повтором.
type WaitExtractor func(err error) (time.Duration, bool)

// StopRetryer объявляет необходимость немедленно прекратить повторные попытки.
// Ошибка, реализующая интерфейс, возвращается вызывающему коду без задержек.
type StopRetryer interface {
	StopRetry() bool
}

// ErrNotStarted возвращается, если вызов Do произошёл до запуска Start.
var ErrNotStarted = errors.New("throttle: Start must be called before Do")

// Option задаёт дополнительные параметры троттлера при создании.
type Option func(*Throttler)

// WithMaxRetries ограничивает количество повторных попыток. <=0 — без ограничения.
func WithMaxRetries(n int) Option {
	return func(t *Throttler) { t.maxRetries = n }
}

// WithBurst переопределяет ёмкость токен-бакета.
func WithBurst(burst int) Option {
	return func(t *Throttler) { t.burst = burst }
}

// WithWaitExtractors регистрирует экстракторы серверных задержек.
func WithWaitExtractors(extractors ...WaitExtractor) Option {
	return func(t *Throttler) {
		t.waitExtractors = append(t.waitExtractors, extractors...)
	}
}

// WithBackoff задаёт базу и потолок экспоненциального бэкофа.
func WithBackoff(initial, max time.Duration) Option {
	return func(t *Throttler) {
		if initial > 0 {
			t.backoffBase = initial
		}
		if max > 0 {
			t.backoffMax = max
		}
	}
}

// WithRandom позволяет задать функцию генерации случайных чисел (для детерминированных тестов).
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.randomFn = fn
		}
	}
}

// Throttler инкапсулирует токен-бакет и стратегию повторных попыток.
type Throttler struct {
	rate  int // пополнение токенов в секунду (базовый RPS)
	burst int // ёмкость бакета

	tokens chan struct{}

	waitExtractors []WaitExtractor
	maxRetries     int // -1 — без ограничений
	backoffBase    time.Duration
	backoffMax     time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	rootCtx  context.Context
	cancel   context.CancelFunc
	randomFn func() float64
}

// New создаёт троттлер с частотой rate операций/сек. По умолчанию burst = 2*rate,
// бэкоф 1s → 30s, ретраи не ограничены. Start вызывается отдельно.
func New(rate int, opts ...Option) *Throttler {
	if rate <= 0 {
		rate = 1
	}
	t := &Throttler{
		rate:        rate,
		burst:       rate * defaultBurstFactor,
		maxRetries:  -1,
		backoffBase: time.Second,
		backoffMax:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.burst < 1 {
		t.burst = 1
	}
	if t.randomFn == nil {
		t.randomFn = rand.Float64
	}
	return t
}

// Start инициализирует бакет, предзаполняет его и запускает пополнение. Идемпотентен.
func (t *Throttler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	t.startOnce.Do(func() {
		t.mu.Lock()
		t.rootCtx, t.cancel = context.WithCancel(ctx)
		t.tokens = make(chan struct{}, t.burst)
		for range t.burst {
			t.tokens <- struct{}{}
		}
		t.mu.Unlock()
		t.wg.Go(func() {
			t.refillLoop()
		})
	})
}

// Stop останавливает пополнение и дожидается фоновой горутины. Идемпотентен.
func (t *Throttler) Stop() {
	if t.rootContext() == nil {
		return
	}
	t.stopOnce.Do(func() {
		t.cancel()
		t.wg.Wait()
	})
}

// Do выполняет fn с лимитами токен-бакета и ретраями.
// Алгоритм: токен → вызов → классификация ошибки: StopRetryer и отменённый
// контекст возвращаются сразу; серверная пауза из экстрактора отрабатывается
// без роста attempt; прочие ошибки — экспоненциальный бэкоф с джиттером до
// исчерпания лимита ретраев.
func (t *Throttler) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	root := t.rootContext()
	if root == nil {
		return ErrNotStarted
	}

	attempt := 0
	for {
		if err := t.takeToken(ctx, root); err != nil {
			return err
		}

		callErr := fn()
		if callErr == nil {
			return nil
		}

		var stopper StopRetryer
		waitDur, hasWait := t.extractWait(callErr)

		switch {
		case errors.As(callErr, &stopper) && stopper.StopRetry():
			return callErr
		case errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded):
			return callErr
		case hasWait:
			if wErr := t.wait(ctx, root, waitDur); wErr != nil {
				return wErr
			}
			continue
		}

		if t.maxRetries > 0 && attempt >= t.maxRetries {
			return fmt.Errorf("throttle: max retries reached (%d): last error: %w", t.maxRetries, callErr)
		}

		sleep := t.expBackoff(attempt)
		attempt++
		if wErr := t.wait(ctx, root, sleep); wErr != nil {
			return wErr
		}
	}
}

// extractWait прогоняет ошибку через цепочку экстракторов.
func (t *Throttler) extractWait(err error) (time.Duration, bool) {
	for _, extract := range t.waitExtractors {
		if d, ok := extract(err); ok {
			return d, true
		}
	}
	return 0, false
}

// expBackoff считает паузу для attempt: base * 2^attempt с полным джиттером,
// ограниченную сверху backoffMax.
func (t *Throttler) expBackoff(attempt int) time.Duration {
	backoff := float64(t.backoffBase) * math.Pow(2, float64(attempt))
	if backoff > float64(t.backoffMax) {
		backoff = float64(t.backoffMax)
	}
	// Полный джиттер: равномерно в (0, backoff]; ноль заменяем базой.
	jittered := time.Duration(backoff * t.randomFn())
	if jittered <= 0 {
		jittered = t.backoffBase
	}
	return jittered
}

// wait спит d с уважением к обоим контекстам.
func (t *Throttler) wait(ctx, root context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-root.Done():
		return context.Canceled
	case <-timer.C:
		return nil
	}
}

func (t *Throttler) rootContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootCtx
}

// takeToken блокирует до получения токена или отмены одного из контекстов.
func (t *Throttler) takeToken(ctx, root context.Context) error {
	t.mu.Lock()
	tokenCh := t.tokens
	t.mu.Unlock()
	if tokenCh == nil {
		return ErrNotStarted
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-root.Done():
		return context.Canceled
	case <-tokenCh:
		return nil
	}
}

// refillLoop с периодом 1/rate добавляет токен в бакет, не переполняя burst.
func (t *Throttler) refillLoop() {
	root := t.rootContext()
	interval := time.Second / time.Duration(t.rate)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-root.Done():
			return
		case <-ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default: // бакет полон
			}
		}
	}
}
