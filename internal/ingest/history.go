package ingest

import (
	"context"
	rand "math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"telegram-bdintel/internal/infra/throttle"
)

const (
	historyPageLimit = 100

	// Политика повторов на транспортных ошибках: экспоненциальный бэкоф
	// с джиттером, после исчерпания попыток диалог помечается неудачным,
	// прогон продолжается.
	dialogBackoffInitial = 2 * time.Second
	dialogBackoffMax     = 60 * time.Second
	dialogMaxRetries     = 6

	// floodWaitJitterMax — верхняя граница случайной добавки к обязательному
	// FLOOD_WAIT, чтобы разнести повторные запросы по времени.
	floodWaitJitterMax = 3 * time.Second
)

// ErrDialogFailed — диалог не дочитан после исчерпания повторных попыток.
// Ошибка локальна для диалога: остальные диалоги прогона продолжаются.
var ErrDialogFailed = errors.New("ingest: dialog fetch failed")

// FloodWaitExtractor распознаёт FLOOD_WAIT и FLOOD_PREMIUM_WAIT из Telegram
// API и возвращает обязательную паузу плюс случайный джиттер. Пауза
// отрабатывается троттлером без роста счётчика попыток.
func FloodWaitExtractor() throttle.WaitExtractor {
	return func(err error) (time.Duration, bool) {
		if err == nil {
			return 0, false
		}
		wait, ok := tgerr.AsFloodWait(err)
		if !ok {
			return 0, false
		}
		return wait + nextFloodWaitJitter(), true
	}
}

// nextFloodWaitJitter возвращает случайную добавку из [0, floodWaitJitterMax).
// math/rand/v2 потокобезопасен, криптостойкость здесь не нужна.
func nextFloodWaitJitter() time.Duration {
	sec := int(floodWaitJitterMax / time.Second)
	if sec <= 0 {
		return 0
	}
	return time.Duration(rand.IntN(sec)) * time.Second // #nosec G404
}

// historyThrottler создаёт троттлер чтения истории с политикой диалога:
// точное ожидание FLOOD_WAIT, бэкоф 2s→60s, не больше шести повторов.
func historyThrottler(rps int) *throttle.Throttler {
	return throttle.New(rps,
		throttle.WithMaxRetries(dialogMaxRetries),
		throttle.WithBackoff(dialogBackoffInitial, dialogBackoffMax),
		throttle.WithWaitExtractors(FloodWaitExtractor()),
	)
}

// fetchHistory постранично читает историю диалога от новых сообщений к старым
// и отдаёт строки в канал шифровальщиков. Остановка: достигнут водяной знак
// since, выбран лимит limit или история кончилась. Возвращает число
// отданных сообщений и дату самого свежего из них.
func (i *Ingestor) fetchHistory(
	ctx context.Context,
	d Dialog,
	since time.Time,
	limit int,
	out chan<- rawMessage,
) (int, time.Time, error) {
	fetched := 0
	offsetID := 0
	var lastDate time.Time

	for limit <= 0 || fetched < limit {
		var resp tg.MessagesMessagesClass
		err := i.throttler.Do(ctx, func() error {
			var callErr error
			resp, callErr = i.client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
				Peer:     d.Peer,
				OffsetID: offsetID,
				Limit:    historyPageLimit,
			})
			return callErr
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fetched, lastDate, err
			}
			return fetched, lastDate, errors.Wrapf(ErrDialogFailed, "%q: %v", d.Title, err)
		}

		page, users, err := normalizeHistoryResponse(resp)
		if err != nil {
			return fetched, lastDate, errors.Wrapf(ErrDialogFailed, "%q: %v", d.Title, err)
		}
		if len(page) == 0 {
			break
		}

		i.observeUsers(users)

		done := false
		for _, msgClass := range page {
			msg, ok := msgClass.(*tg.Message)
			if !ok {
				// Служебные сообщения (вступления, смены темы) не несут текста.
				continue
			}
			date := unixTime(msg.Date)
			if !since.IsZero() && !date.After(since) {
				done = true
				break
			}
			select {
			case out <- rawMessage{dialog: d, msg: msg}:
			case <-ctx.Done():
				return fetched, lastDate, ctx.Err()
			}
			fetched++
			if date.After(lastDate) {
				lastDate = date
			}
			if limit > 0 && fetched >= limit {
				done = true
				break
			}
		}

		i.emit(Progress{Dialog: d.Title, Fetched: fetched, LastDate: lastDate})

		if done || len(page) < historyPageLimit {
			break
		}
		offsetID = lastMessageID(page)
		if offsetID == 0 {
			break
		}
	}

	return fetched, lastDate, nil
}

// normalizeHistoryResponse приводит варианты ответа getHistory к плоской
// странице сообщений плюс сущности пользователей, приехавшие вместе с ней.
func normalizeHistoryResponse(resp tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass, error) {
	switch data := resp.(type) {
	case *tg.MessagesMessages:
		return data.Messages, data.Users, nil
	case *tg.MessagesMessagesSlice:
		return data.Messages, data.Users, nil
	case *tg.MessagesChannelMessages:
		return data.Messages, data.Users, nil
	case *tg.MessagesMessagesNotModified:
		return nil, nil, nil
	default:
		return nil, nil, errors.Errorf("unexpected history response: %T", resp)
	}
}

// lastMessageID возвращает ID последнего (самого старого) сообщения страницы
// для смещения следующего запроса.
func lastMessageID(page []tg.MessageClass) int {
	for idx := len(page) - 1; idx >= 0; idx-- {
		switch item := page[idx].(type) {
		case *tg.Message:
			return item.ID
		case *tg.MessageService:
			return item.ID
		}
	}
	return 0
}
