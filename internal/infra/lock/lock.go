// Package lock — однo-экземплярная блокировка процесса через pid-файл.
// Файл содержит PID владельца. На старте: живой владелец → отказ (если не force),
// мёртвый владелец → файл считается протухшим и удаляется. На чистом завершении
// файл снимается. Запись pid-файла выполняется только планировщиком процесса.
package lock

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-bdintel/internal/infra/logger"
	"telegram-bdintel/internal/infra/storage"
)

// ErrAlreadyRunning — pid-файл принадлежит живому процессу.
var ErrAlreadyRunning = errors.New("lock: another instance is already running")

// PidLock держит путь к pid-файлу и факт владения им.
type PidLock struct {
	path  string
	owned bool
}

// New создаёт блокировку для указанного пути; файл не трогается до Acquire.
func New(path string) *PidLock {
	return &PidLock{path: path}
}

// Acquire пытается занять блокировку.
// force=true игнорирует живого владельца (ручное вмешательство оператора).
func (l *PidLock) Acquire(force bool) error {
	if pid, ok := l.readPid(); ok {
		if processAlive(pid) && !force {
			return errors.Wrapf(ErrAlreadyRunning, "pid %d holds %s", pid, l.path)
		}
		if processAlive(pid) {
			logger.Warn("forcing lock takeover from live process", zap.Int("pid", pid))
		} else {
			logger.Info("removing stale pid file", zap.Int("pid", pid), zap.String("path", l.path))
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "remove stale pid file")
		}
	}

	content := strconv.Itoa(os.Getpid()) + "\n"
	if err := storage.AtomicWriteFile(l.path, []byte(content)); err != nil {
		return errors.Wrap(err, "write pid file")
	}
	l.owned = true
	return nil
}

// Release снимает блокировку, если она принадлежит нам. Идемпотентен.
func (l *PidLock) Release() {
	if !l.owned {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("release pid lock: %v", err)
	}
	l.owned = false
}

// readPid читает PID из файла. ok=false — файла нет или содержимое нечитаемо.
func (l *PidLock) readPid() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		// Нечитаемое содержимое трактуем как протухший файл.
		return 0, true
	}
	return pid, true
}

// processAlive проверяет существование процесса сигналом 0.
// На Unix FindProcess всегда успешен, фактическая проверка — в Signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM означает «жив, но чужой» — для наших целей это живой владелец.
	return errors.Is(err, syscall.EPERM)
}
