package ingest

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"

	"telegram-bdintel/internal/infra/storage"
)

const (
	peersBucketName = "peers"
	peersOpenWait   = time.Second
)

var peersBucketBytes = []byte(peersBucketName)

// PeerCache — персистентный кэш сущностей Telegram на bbolt. Сохраняет
// access_hash пользователей и каналов между прогонами: инкрементальный прогон
// может резолвить пиров, которых текущая выдача API не вернула целиком.
type PeerCache struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
}

// OpenPeerCache открывает (или создаёт) файл кэша пиров.
func OpenPeerCache(path string) (*PeerCache, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "ensure peers dir")
	}
	db, err := bbolt.Open(path, storage.DefaultFilePerm, &bbolt.Options{Timeout: peersOpenWait})
	if err != nil {
		return nil, errors.Wrap(err, "open peers cache")
	}
	return &PeerCache{
		db:    db,
		store: bboltdb.NewPeerStorage(db, peersBucketBytes),
	}, nil
}

// Close закрывает файл базы данных.
func (p *PeerCache) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// SaveEntities сохраняет пользователей и чаты из ответа API. Сущности без
// полных данных (min-конструкторы без access_hash) пропускаются молча.
func (p *PeerCache) SaveEntities(ctx context.Context, users []tg.UserClass, chats []tg.ChatClass) error {
	now := time.Now()
	for _, u := range users {
		var peer contribstorage.Peer
		if !peer.FromUser(u) {
			continue
		}
		peer.CreatedAt = now
		if err := p.store.Add(ctx, peer); err != nil {
			return errors.Wrap(err, "save user peer")
		}
	}
	for _, c := range chats {
		var peer contribstorage.Peer
		if !peer.FromChat(c) {
			continue
		}
		peer.CreatedAt = now
		if err := p.store.Add(ctx, peer); err != nil {
			return errors.Wrap(err, "save chat peer")
		}
	}
	return nil
}

// AccessHash возвращает сохранённый access_hash пользователя или канала.
// ok=false — пир не найден в кэше.
func (p *PeerCache) AccessHash(ctx context.Context, kind dialogs.PeerKind, id int64) (int64, bool, error) {
	value, err := p.store.Find(ctx, contribstorage.PeerKey{Kind: kind, ID: id})
	if errors.Is(err, contribstorage.ErrPeerNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "find peer")
	}
	return value.Key.AccessHash, true, nil
}
