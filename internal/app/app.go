// Пакет app — верхний уровень сборки конвейера: конфигурация, шифратор,
// хранилище, телеграм-клиент, обогащение, проекция и планировщик связываются
// здесь. Отсюда стартует расписание и обеспечивается корректный shutdown.
package app

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-bdintel/internal/enrich"
	"telegram-bdintel/internal/infra/config"
	"telegram-bdintel/internal/infra/crypto"
	"telegram-bdintel/internal/infra/logger"
	"telegram-bdintel/internal/infra/pr"
	"telegram-bdintel/internal/ingest"
	"telegram-bdintel/internal/sched"
	"telegram-bdintel/internal/store"
	"telegram-bdintel/internal/syncer"
)

// backupLayout — имя файла суточного бэкапа базы.
const backupLayout = "core-20060102-150405.db"

// App агрегирует подсистемы конвейера и управляет их жизненным циклом.
type App struct {
	env   config.EnvConfig
	force bool

	cipher    *crypto.Cipher
	store     *store.Store
	peers     *ingest.PeerCache
	client    *ingest.Client
	enricher  *enrich.Enricher
	sink      syncer.Sink
	projector *syncer.Projector
	scheduler *sched.Scheduler

	mainCancel context.CancelFunc

	mu    sync.Mutex
	fatal error // ошибка, потребовавшая остановки процесса изнутри задания
}

// New создаёт пустой каркас; фактическая инициализация выполняется в Init.
func New(env config.EnvConfig, force bool) *App {
	return &App{env: env, force: force}
}

// Init поднимает подсистемы в порядке зависимостей: ключ, хранилище, кэш
// пиров, клиент, обогащение, назначение, планировщик. mainCancel используется
// для остановки процесса из заданий (потеря авторизации Telegram).
func (a *App) Init(ctx context.Context, mainCancel context.CancelFunc) error {
	a.mainCancel = mainCancel

	cipher, err := crypto.Load(a.env.FernetKey, a.env.KeyPath())
	if err != nil {
		return errors.Wrap(err, "load cipher")
	}
	a.cipher = cipher

	st, err := store.Open(a.env.DatabasePath())
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	a.store = st

	peers, err := ingest.OpenPeerCache(a.env.PeersCachePath())
	if err != nil {
		return errors.Wrap(err, "open peer cache")
	}
	a.peers = peers

	a.client = ingest.NewClient(a.env)
	a.enricher = enrich.New(st, cipher, enrich.Options{
		Location:         a.env.Location(),
		ExcludeUsernames: a.env.FollowUpExclude,
	})

	sink, err := a.buildSink(ctx)
	if err != nil {
		return errors.Wrap(err, "build destination")
	}
	a.sink = sink
	a.projector = syncer.New(st, sink)

	a.scheduler = sched.New(a.env, a.hooks(), a.force)

	if logger.IsDebugEnabled() {
		pr.Pretty(a.env)
	}
	logger.Logger().Info("pipeline assembled",
		zap.String("destination", sink.Name()),
		zap.String("data_dir", a.env.DataDir),
	)
	return nil
}

// Run крутит планировщик до отмены контекста, затем закрывает ресурсы.
// Возвращает фатальную ошибку задания, если остановка была инициирована ею.
func (a *App) Run(ctx context.Context) error {
	err := a.scheduler.Run(ctx)
	a.close()

	a.mu.Lock()
	fatal := a.fatal
	a.mu.Unlock()
	if fatal != nil {
		return fatal
	}
	return err
}

// Login выполняет интерактивную авторизацию Telegram и выходит, не запуская
// расписание. Используется для первичной настройки на рабочей машине.
func (a *App) Login(ctx context.Context) error {
	if !pr.Interactive() {
		return ingest.ErrAuthRequired
	}
	return a.client.AuthenticateInteractive(ctx)
}

// buildSink выбирает назначение по конфигурации.
func (a *App) buildSink(ctx context.Context) (syncer.Sink, error) {
	switch a.env.Destination {
	case config.DestinationSheets:
		return syncer.NewSheetsSink(ctx, a.env.DestinationID, a.env.ServiceAccountFile)
	case config.DestinationCSV:
		return syncer.NewCSVSink(a.env.DestinationID)
	case config.DestinationNone:
		return syncer.NoneSink{}, nil
	default:
		return nil, errors.Errorf("unknown destination %q", a.env.Destination)
	}
}

// hooks связывает задания планировщика с подсистемами.
func (a *App) hooks() sched.Hooks {
	return sched.Hooks{
		Ingest:          a.runIngest,
		Enrich:          a.runEnrich,
		SyncIncremental: a.runSyncIncremental,
		SyncFull:        a.projector.FullSync,
		Backup:          a.runBackup,
	}
}

// runIngest выполняет один прогон инжеста. Инжестор одноразовый: каждый прогон
// получает свежий экземпляр со своим флагом полноты.
func (a *App) runIngest(ctx context.Context, full bool) error {
	ing := ingest.New(a.client, a.store, a.cipher, a.peers, a.env.ThrottleRPS, ingest.Options{
		SyncLimit: a.env.SyncLimit,
		Full:      full,
		OnProgress: func(p ingest.Progress) {
			logger.Debugf("ingest %s: %d messages up to %s",
				p.Dialog, p.Fetched, p.LastDate.Format(time.DateTime))
		},
	})
	_, err := ing.Run(ctx)
	if errors.Is(err, ingest.ErrAuthRequired) {
		// Без авторизации конвейер бесполезен: останавливаем процесс,
		// оператор перезапустит его в интерактивном терминале.
		a.fail(err)
		return err
	}
	return err
}

// runEnrich прогоняет обогащение и уплотняет базу после него.
func (a *App) runEnrich(ctx context.Context) error {
	rep, err := a.enricher.Run(ctx)
	if err != nil {
		return err
	}
	logger.Logger().Info("enrichment finished",
		zap.Int("messages", rep.MessagesEnriched),
		zap.Int("contacts", rep.ContactsAggregated),
		zap.Int("leads", rep.LeadsUpserted),
		zap.Int("follow_ups", rep.FollowUpsCreated),
		zap.Int("opportunities", rep.Opportunities),
		zap.Duration("took", rep.Elapsed),
	)
	if err = a.store.Vacuum(ctx); err != nil {
		logger.Warnf("vacuum after enrich: %v", err)
	}
	return nil
}

func (a *App) runSyncIncremental(ctx context.Context) error {
	_, err := a.projector.IncrementalSync(ctx)
	return err
}

// runBackup снимает копию базы в каталог бэкапов с меткой времени в имени.
func (a *App) runBackup(ctx context.Context) error {
	path := filepath.Join(a.env.BackupDir(), time.Now().Format(backupLayout))
	if err := a.store.BackupTo(ctx, path); err != nil {
		return err
	}
	logger.Info("database backup written", zap.String("path", path))
	return nil
}

// fail запоминает фатальную ошибку и инициирует остановку процесса.
func (a *App) fail(err error) {
	a.mu.Lock()
	if a.fatal == nil {
		a.fatal = err
	}
	a.mu.Unlock()
	if a.mainCancel != nil {
		a.mainCancel()
	}
}

// close закрывает ресурсы в порядке, обратном инициализации.
func (a *App) close() {
	if a.peers != nil {
		if err := a.peers.Close(); err != nil {
			logger.Warnf("close peer cache: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("close store: %v", err)
		}
	}
}
