package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	_ "modernc.org/sqlite" // чистый Go-драйвер, без cgo

	"telegram-bdintel/internal/infra/logger"
	"telegram-bdintel/internal/infra/storage"
)

// Store — обёртка над *sql.DB c применёнными миграциями.
// Все многострочные записи выполняются в транзакции через WithTx.
type Store struct {
	db   *sql.DB
	path string
}

// dbtx покрывает и *sql.DB, и *sql.Tx: методы записи принимают его, чтобы
// одинаково работать внутри и вне явной транзакции.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open открывает (или создаёт) базу по пути path, настраивает pragmas
// и применяет миграции. ":memory:" поддерживается для тестов.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := storage.EnsureDir(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// modernc/sqlite не любит конкурентных писателей на одном соединении;
	// WAL + busy_timeout снимают большинство конфликтов, одно соединение
	// на запись убирает остальные.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err = db.Exec(p); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "pragma %q", p)
		}
	}

	s := &Store{db: db, path: path}
	if err = s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB отдаёт нижележащий *sql.DB (нужен тестам и обслуживающим операциям).
func (s *Store) DB() *sql.DB { return s.db }

// WithTx выполняет fn внутри транзакции: commit при nil, rollback при ошибке.
// Паника внутри fn откатывает транзакцию и пробрасывается дальше.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Warnf("tx rollback: %v", rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// unixOrZero переводит Unix-секунды в time.Time; 0 — нулевое время.
func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// zeroOrUnix — обратное преобразование для записи в базу.
func zeroOrUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().Unix()
}
