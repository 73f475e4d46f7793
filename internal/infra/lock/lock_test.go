package lock_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"telegram-bdintel/internal/infra/lock"
)

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "core.pid")
	l := lock.New(path)

	if err := l.Acquire(false); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("pid file not written: %v", err)
	}
	if got := string(data); got != strconv.Itoa(os.Getpid())+"\n" {
		t.Fatalf("pid file content = %q", got)
	}

	l.Release()
	if _, err = os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pid file survives Release: %v", err)
	}
	// Повторный Release безопасен.
	l.Release()
}

func TestAcquireAgainstLiveOwner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "core.pid")

	// Наш собственный процесс заведомо жив.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	l := lock.New(path)
	if err := l.Acquire(false); !errors.Is(err, lock.ErrAlreadyRunning) {
		t.Fatalf("Acquire() = %v, want ErrAlreadyRunning", err)
	}

	// force перехватывает блокировку даже у живого владельца.
	if err := l.Acquire(true); err != nil {
		t.Fatalf("Acquire(force) error: %v", err)
	}
	l.Release()
}

func TestAcquireRemovesStalePid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "core.pid")

	// PID за пределами возможных значений — гарантированно мёртвый процесс.
	if err := os.WriteFile(path, []byte("99999999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	l := lock.New(path)
	if err := l.Acquire(false); err != nil {
		t.Fatalf("Acquire() over stale pid error: %v", err)
	}
	l.Release()
}
