// Пакет ingest реализует пакетный сбор истории Telegram через MTProto:
// подключение клиента, обход диалогов, постраничное чтение истории от новых
// сообщений к старым до водяного знака и запись зашифрованных текстов в базу.
// В отличие от резидентных ботов клиент живёт только на время прогона.
package ingest

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	tgauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"telegram-bdintel/internal/infra/config"
	"telegram-bdintel/internal/infra/logger"
)

// appVersion попадает в паспорт устройства MTProto-сессии.
const appVersion = "1.0.0"

// Client — обёртка над MTProto-клиентом для пакетных прогонов: создание с
// middleware троттлинга и FLOOD_WAIT, авторизация и выполнение переданной
// функции внутри живого соединения.
type Client struct {
	tg     *telegram.Client
	waiter *floodwait.Waiter
	phone  string
}

// NewClient собирает MTProto-клиент по конфигурации окружения: файловая
// сессия, ограничитель скорости запросов и ожидание FLOOD_WAIT на уровне
// middleware.
func NewClient(env config.EnvConfig) *Client {
	waiter := floodwait.NewWaiter()

	options := telegram.Options{
		SessionStorage: &SessionStorage{Path: env.SessionPath()},
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(
				rate.Limit(env.ThrottleRPS),
				env.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    appVersion,
		},
	}

	// Для тестовых окружений используем DC тестового стенда Telegram.
	if env.TestDC {
		options.DCList = dcs.Test()
	}

	return &Client{
		tg:     telegram.NewClient(env.APIID, env.APIHash, options),
		waiter: waiter,
		phone:  env.PhoneNumber,
	}
}

// API возвращает низкоуровневый RPC-интерфейс Telegram.
func (c *Client) API() *tg.Client { return c.tg.API() }

// Run устанавливает соединение, при необходимости проходит авторизацию и
// выполняет fn внутри живой сессии. Возвращает ErrAuthRequired, если логин
// нужен, а терминал неинтерактивен.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.waiter.Run(ctx, func(ctx context.Context) error {
		return c.tg.Run(ctx, func(ctx context.Context) error {
			if err := c.loginSelf(ctx); err != nil {
				return err
			}
			return fn(ctx)
		})
	})
}

// AuthenticateInteractive устанавливает соединение только ради входа:
// проходит сценарий авторизации, сохраняет сессию и отключается.
func (c *Client) AuthenticateInteractive(ctx context.Context) error {
	return c.waiter.Run(ctx, func(ctx context.Context) error {
		return c.tg.Run(ctx, c.loginSelf)
	})
}

// loginSelf выполняет интерактивный сценарий входа, если сессия отсутствует
// или отозвана, и логирует идентичность аккаунта.
func (c *Client) loginSelf(ctx context.Context) error {
	flow := tgauth.NewFlow(
		TerminalAuthenticator{PhoneNumber: c.phone},
		tgauth.SendCodeOptions{},
	)

	if err := c.tg.Auth().IfNecessary(ctx, flow); err != nil {
		if errors.Is(err, ErrAuthRequired) {
			return ErrAuthRequired
		}
		return errors.Wrap(err, "auth")
	}

	self, err := c.tg.Self(ctx)
	if err != nil {
		return errors.Wrap(err, "self")
	}
	logger.Logger().Info("Logged in as:",
		zap.String("FirstName", self.FirstName),
		zap.String("Username", self.Username),
		zap.Int64("ID", self.ID),
	)
	return nil
}
