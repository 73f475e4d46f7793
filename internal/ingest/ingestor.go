package ingest

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"telegram-bdintel/internal/infra/crypto"
	"telegram-bdintel/internal/infra/logger"
	"telegram-bdintel/internal/infra/throttle"
	"telegram-bdintel/internal/store"
)

const (
	encryptWorkers = 4
	rawQueueSize   = 1000
	storeBatchSize = 500
)

// rawMessage — сообщение до шифрования: живёт от продюсера до воркера.
type rawMessage struct {
	dialog Dialog
	msg    *tg.Message
}

// Progress — структурное событие хода загрузки, отдаётся после каждой
// страницы истории.
type Progress struct {
	Dialog   string
	Fetched  int
	LastDate time.Time
}

// Report — итоги одного прогона загрузки.
type Report struct {
	Dialogs          int
	DialogsFailed    int
	MessagesFetched  int
	MessagesInserted int
	ContactsSeen     int
	Elapsed          time.Duration
}

// Options — настройки прогона загрузки.
type Options struct {
	// SyncLimit — максимум сообщений на диалог за прогон; <=0 — без лимита.
	SyncLimit int
	// Full игнорирует водяные знаки и перечитывает историю целиком.
	Full bool
	// OnProgress, если задан, получает события хода загрузки.
	OnProgress func(Progress)
	// Workers переопределяет число шифровальщиков; <=0 — значение по умолчанию.
	Workers int
}

// Ingestor — конвейер загрузки: перечисление диалогов, постраничное чтение
// истории, шифрование текстов пулом воркеров и пакетная запись в хранилище.
type Ingestor struct {
	client    *Client
	store     *store.Store
	cipher    *crypto.Cipher
	peers     *PeerCache
	throttler *throttle.Throttler
	opts      Options

	mu    sync.Mutex
	users map[int64]store.Contact // контакты, замеченные в сущностях страниц
}

// New собирает Ingestor. Троттлер истории настраивается под тот же RPS, что
// и middleware клиента.
func New(client *Client, st *store.Store, cipher *crypto.Cipher, peers *PeerCache, rps int, opts Options) *Ingestor {
	if opts.Workers <= 0 {
		opts.Workers = encryptWorkers
	}
	return &Ingestor{
		client:    client,
		store:     st,
		cipher:    cipher,
		peers:     peers,
		throttler: historyThrottler(rps),
		opts:      opts,
		users:     make(map[int64]store.Contact),
	}
}

// Run выполняет полный прогон: соединение, авторизация при необходимости,
// перечисление диалогов и загрузка истории каждого. Ошибка одного диалога
// не прерывает прогон; фатальны только ошибки хранилища, шифрования и отмена.
func (i *Ingestor) Run(ctx context.Context) (Report, error) {
	var report Report
	started := time.Now()

	err := i.client.Run(ctx, func(ctx context.Context) error {
		return i.run(ctx, &report)
	})
	report.Elapsed = time.Since(started)
	if err != nil {
		return report, err
	}

	logger.Logger().Info("ingest pass finished",
		zap.Int("dialogs", report.Dialogs),
		zap.Int("dialogs_failed", report.DialogsFailed),
		zap.Int("fetched", report.MessagesFetched),
		zap.Int("inserted", report.MessagesInserted),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (i *Ingestor) run(ctx context.Context, report *Report) error {
	i.throttler.Start(ctx)
	defer i.throttler.Stop()

	batch, err := fetchDialogs(ctx, i.client.API())
	if err != nil {
		return errors.Wrap(err, "fetch dialogs")
	}
	report.Dialogs = len(batch.dialogs)
	logger.Debugf("enumerated %d dialogs", len(batch.dialogs))

	if err = i.persistEntities(ctx, batch); err != nil {
		return err
	}

	selfID, err := i.selfID(ctx)
	if err != nil {
		return err
	}

	raws := make(chan rawMessage, rawQueueSize)
	g, gctx := errgroup.WithContext(ctx)

	var insertMu sync.Mutex
	inserted := 0
	for w := 0; w < i.opts.Workers; w++ {
		g.Go(func() error {
			n, workerErr := i.encryptLoop(gctx, selfID, raws)
			insertMu.Lock()
			inserted += n
			insertMu.Unlock()
			return workerErr
		})
	}

	g.Go(func() error {
		defer close(raws)
		return i.produce(gctx, batch.dialogs, raws, report)
	})

	if err = g.Wait(); err != nil {
		return err
	}
	report.MessagesInserted = inserted

	if err = i.flushContacts(ctx); err != nil {
		return err
	}
	report.ContactsSeen = i.contactsSeen()
	return nil
}

// produce последовательно читает историю всех диалогов. Диалог, упавший после
// исчерпания повторов, логируется и пропускается.
func (i *Ingestor) produce(ctx context.Context, dialogs []Dialog, out chan<- rawMessage, report *Report) error {
	for _, d := range dialogs {
		since := time.Time{}
		if !i.opts.Full {
			wm, err := i.store.Watermark(ctx, d.ChatID)
			if err != nil {
				return errors.Wrap(err, "read watermark")
			}
			since = wm
		}

		fetched, lastDate, err := i.fetchHistory(ctx, d, since, i.opts.SyncLimit, out)
		report.MessagesFetched += fetched
		switch {
		case err == nil:
		case errors.Is(err, ErrDialogFailed):
			report.DialogsFailed++
			logger.Warnf("dialog %q failed after retries: %v", d.Title, err)
			continue
		default:
			return err
		}

		if fetched > 0 {
			logger.Debug("dialog ingested",
				zap.String("dialog", d.Title),
				zap.Int("fetched", fetched),
				zap.Time("last_date", lastDate),
			)
		}
	}
	return nil
}

// encryptLoop — воркер: шифрует тексты и сбрасывает пакеты фиксированного
// размера в хранилище одной транзакцией. Возвращает число новых строк.
func (i *Ingestor) encryptLoop(ctx context.Context, selfID int64, in <-chan rawMessage) (int, error) {
	batch := make([]store.Message, 0, storeBatchSize)
	inserted := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := i.store.UpsertMessages(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "store batch")
		}
		inserted += n
		batch = batch[:0]
		return nil
	}

	for raw := range in {
		row, text := buildMessage(raw.msg, raw.dialog.ChatID, selfID)
		ciphertext, err := i.cipher.Encrypt([]byte(text))
		if err != nil {
			return inserted, errors.Wrap(err, "encrypt message")
		}
		row.Ciphertext = ciphertext

		batch = append(batch, row)
		if len(batch) >= storeBatchSize {
			if err = flush(); err != nil {
				return inserted, err
			}
		}
	}
	return inserted, flush()
}

// persistEntities записывает чаты и контакты из перечисления диалогов и
// обновляет bbolt-кэш пиров.
func (i *Ingestor) persistEntities(ctx context.Context, batch *dialogBatch) error {
	contacts, chats := chatRowsFromEntities(batch)
	for _, c := range chats {
		if err := i.store.UpsertChat(ctx, c); err != nil {
			return err
		}
	}
	for _, c := range contacts {
		i.rememberContact(c)
	}
	if i.peers != nil {
		if err := i.peers.SaveEntities(ctx, batch.users, batch.chats); err != nil {
			return err
		}
	}
	return nil
}

// observeUsers накапливает сущности пользователей со страниц истории.
// Вызывается из продюсера; промежуточные сбросы держат карту небольшой.
func (i *Ingestor) observeUsers(users []tg.UserClass) {
	for _, entity := range users {
		if user, ok := entity.(*tg.User); ok {
			i.rememberContact(contactFromUser(user))
		}
	}
}

func (i *Ingestor) rememberContact(c store.Contact) {
	i.mu.Lock()
	i.users[c.UserID] = c
	i.mu.Unlock()
}

func (i *Ingestor) contactsSeen() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.users)
}

// flushContacts записывает накопленные контакты одной транзакцией.
func (i *Ingestor) flushContacts(ctx context.Context) error {
	i.mu.Lock()
	contacts := make([]store.Contact, 0, len(i.users))
	for _, c := range i.users {
		contacts = append(contacts, c)
	}
	i.mu.Unlock()

	if len(contacts) == 0 {
		return nil
	}
	return i.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, c := range contacts {
			if err := i.store.UpsertContactTx(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// selfID возвращает идентификатор владельца аккаунта: им подписываются
// исходящие сообщения личных диалогов без from_id.
func (i *Ingestor) selfID(ctx context.Context) (int64, error) {
	var out int64
	err := i.throttler.Do(ctx, func() error {
		users, callErr := i.client.API().UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUserSelf{}})
		if callErr != nil {
			return callErr
		}
		for _, entity := range users {
			if user, ok := entity.(*tg.User); ok {
				out = user.ID
				return nil
			}
		}
		return errors.New("self user missing in response")
	})
	return out, errors.Wrap(err, "resolve self")
}

func (i *Ingestor) emit(p Progress) {
	if i.opts.OnProgress != nil {
		i.opts.OnProgress(p)
	}
}
