// bdcore — ядро конвейера бизнес-разведки поверх личного аккаунта Telegram:
// периодический инжест переписки, обогащение и выгрузка проекций во внешние
// таблицы. Один экземпляр на каталог данных; повторный запуск отклоняется.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-bdintel/internal/app"
	"telegram-bdintel/internal/infra/config"
	"telegram-bdintel/internal/infra/lock"
	"telegram-bdintel/internal/infra/logger"
	"telegram-bdintel/internal/infra/pr"
	"telegram-bdintel/internal/infra/timeutil"
	"telegram-bdintel/internal/ingest"
	"telegram-bdintel/internal/store"
)

// Коды выхода процесса — внешний контракт для supervisord/systemd.
const (
	exitOK       = 0
	exitConfig   = 2
	exitLocked   = 3
	exitAuth     = 4
	exitSchema   = 5
	exitInternal = 10
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assign stdout and stderr", zap.Error(err))
	}

	envPath := flag.String("env", ".env", "path to .env file")
	force := flag.Bool("force", false, "take over a live pid lock")
	login := flag.Bool("login", false, "run interactive Telegram authorization and exit")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Errorf("config: %v", err)
		return exitConfig
	}
	env := config.Env()

	// Таймзона приложения действует на весь процесс.
	if loc, err := timeutil.ParseLocation(env.AppTimezone); err == nil {
		time.Local = loc //nolint:reassign // приложение работает в выбранной TZ
	}

	logger.Init(env.LogLevel)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	if env.LogFile != "" {
		logger.EnableFile(logger.FileOptions{
			Path:       env.LogFile,
			Level:      env.LogFileLevel,
			MaxSizeMB:  env.LogFileMaxSize,
			MaxBackups: env.LogFileMaxBackups,
			MaxAgeDays: env.LogFileMaxAge,
			Compress:   env.LogFileCompress,
		})
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(env, *force)
	if err := a.Init(ctx, stop); err != nil {
		logger.Errorf("init: %v", err)
		return exitCode(err)
	}

	if *login {
		if err := a.Login(ctx); err != nil {
			logger.Errorf("login: %v", err)
			return exitCode(err)
		}
		pr.Println("Authorization complete.")
		return exitOK
	}

	if err := a.Run(ctx); err != nil {
		logger.Errorf("run: %v", err)
		return exitCode(err)
	}
	logger.Info("graceful shutdown complete")
	return exitOK
}

// exitCode переводит известные ошибки в коды выхода.
func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrConfig):
		return exitConfig
	case errors.Is(err, lock.ErrAlreadyRunning):
		return exitLocked
	case errors.Is(err, ingest.ErrAuthRequired):
		return exitAuth
	case errors.Is(err, store.ErrSchemaAhead):
		return exitSchema
	default:
		return exitInternal
	}
}
