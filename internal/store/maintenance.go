package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"

	"telegram-bdintel/internal/infra/logger"
	"telegram-bdintel/internal/infra/storage"
)

// Vacuum уплотняет файл базы. Запускается обслуживанием после полной проекции.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return errors.Wrap(err, "vacuum")
}

// BackupTo снимает консистентную копию базы в path через VACUUM INTO.
// Существующий файл предварительно удаляется: VACUUM INTO отказывается
// писать поверх.
func (s *Store) BackupTo(ctx context.Context, path string) error {
	if s.path == ":memory:" {
		return errors.New("backup of in-memory database")
	}
	if err := storage.EnsureDir(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove stale backup")
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return errors.Wrap(err, "vacuum into")
	}
	if err := os.Chmod(path, storage.DefaultFilePerm); err != nil {
		return errors.Wrap(err, "chmod backup")
	}
	logger.Infof("database backup written: %s", filepath.Base(path))
	return nil
}

// Stats — сводка состояния хранилища для отчёта прогона.
type Stats struct {
	Contacts     int64
	Chats        int64
	Messages     int64
	Enriched     int64
	Leads        int64
	FollowUps    int64
	PendingSyncs int64
	FailedSyncs  int64
	FileBytes    int64
}

// Stats собирает счётчики одной пачкой запросов.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM contacts`, &st.Contacts},
		{`SELECT COUNT(*) FROM chats`, &st.Chats},
		{`SELECT COUNT(*) FROM messages`, &st.Messages},
		{`SELECT COUNT(*) FROM messages WHERE enriched = 1`, &st.Enriched},
		{`SELECT COUNT(*) FROM leads`, &st.Leads},
		{`SELECT COUNT(*) FROM follow_ups`, &st.FollowUps},
		{`SELECT COUNT(*) FROM sync_tasks WHERE state = 'pending'`, &st.PendingSyncs},
		{`SELECT COUNT(*) FROM sync_tasks WHERE state = 'failed'`, &st.FailedSyncs},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return Stats{}, errors.Wrap(err, "stats query")
		}
	}

	if s.path != ":memory:" {
		if fi, err := os.Stat(s.path); err == nil {
			st.FileBytes = fi.Size()
		}
	}
	return st, nil
}
