package throttle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-bdintel/internal/infra/throttle"
)

type stopErr struct{}

func (stopErr) Error() string   { return "permanent failure" }
func (stopErr) StopRetry() bool { return true }

func TestDoSuccess(t *testing.T) {
	t.Parallel()

	tr := throttle.New(100)
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	err := tr.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilLimit(t *testing.T) {
	t.Parallel()

	tr := throttle.New(1000,
		throttle.WithMaxRetries(3),
		throttle.WithBackoff(time.Millisecond, 2*time.Millisecond),
		throttle.WithRandom(func() float64 { return 0.5 }),
	)
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	failure := errors.New("transient")
	err := tr.Do(context.Background(), func() error {
		calls++
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Do() = %v, want wrapped transient error", err)
	}
	// Первая попытка + 3 ретрая.
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestDoStopRetryer(t *testing.T) {
	t.Parallel()

	tr := throttle.New(1000, throttle.WithMaxRetries(5))
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	err := tr.Do(context.Background(), func() error {
		calls++
		return stopErr{}
	})
	var s stopErr
	if !errors.As(err, &s) {
		t.Fatalf("Do() = %v, want stopErr", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retries)", calls)
	}
}

func TestDoHonorsServerWait(t *testing.T) {
	t.Parallel()

	const wait = 30 * time.Millisecond
	waitErr := errors.New("server says wait")
	extractor := func(err error) (time.Duration, bool) {
		if errors.Is(err, waitErr) {
			return wait, true
		}
		return 0, false
	}

	tr := throttle.New(1000, throttle.WithWaitExtractors(extractor))
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	start := time.Now()
	err := tr.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return waitErr
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < wait {
		t.Fatalf("Do() returned after %s, want >= %s (server wait honored)", elapsed, wait)
	}
}

func TestDoCancelledContext(t *testing.T) {
	t.Parallel()

	tr := throttle.New(1,
		throttle.WithBackoff(time.Hour, time.Hour),
		throttle.WithRandom(func() float64 { return 1 }),
	)
	tr.Start(context.Background())
	defer tr.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tr.Do(ctx, func() error { return errors.New("always fails") })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Do() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() did not observe cancellation")
	}
}

func TestDoWithoutStart(t *testing.T) {
	t.Parallel()

	tr := throttle.New(1)
	if err := tr.Do(context.Background(), func() error { return nil }); !errors.Is(err, throttle.ErrNotStarted) {
		t.Fatalf("Do() = %v, want ErrNotStarted", err)
	}
}
