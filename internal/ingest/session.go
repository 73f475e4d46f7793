package ingest

import (
	"context"
	"os"
	"sync"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"

	"telegram-bdintel/internal/infra/storage"
)

// SessionStorage реализует tdsession.Storage поверх файла: атомарная запись,
// отсутствие частичных состояний на диске. Потокобезопасен.
type SessionStorage struct {
	Path string
	mux  sync.Mutex
}

var _ tdsession.Storage = (*SessionStorage)(nil)

// LoadSession читает файл сессии с диска.
func (f *SessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно сохраняет данные сессии на диск.
func (f *SessionStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	return errors.Wrap(storage.AtomicWriteFile(f.Path, data), "write session")
}
