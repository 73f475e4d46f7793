package syncer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrAuthSink — назначение отвергло учётные данные. Ошибка не ретраится:
// планировщик приостанавливает задачи синхронизации до вмешательства оператора.
var ErrAuthSink = errors.New("syncer: destination rejected credentials")

// UpsertResult описывает исход точечной записи строки.
type UpsertResult struct {
	// Conflict — строка назначения правлена извне после последней выгрузки;
	// запись не выполнена.
	Conflict bool
	// ExternalModified — момент внешней правки, если назначение его знает.
	ExternalModified time.Time
}

// Sink — табличное назначение выгрузки. Ключ строки — значение первой колонки
// таблицы. Реализации сами отвечают за оформление строки заголовка.
type Sink interface {
	// Name — человекочитаемое имя назначения для логов.
	Name() string

	// ReplaceTable атомарно заменяет содержимое таблицы целиком.
	ReplaceTable(ctx context.Context, table string, header []string, rows [][]string) error

	// UpsertRow вставляет или обновляет одну строку по ключу.
	UpsertRow(ctx context.Context, table string, header []string, key string, row []string) (UpsertResult, error)

	// DeleteRow удаляет строку по ключу; отсутствие строки — не ошибка.
	DeleteRow(ctx context.Context, table string, key string) error
}

// NoneSink — заглушка для DESTINATION_KIND=none: конвейер работает, выгрузка
// отключена.
type NoneSink struct{}

func (NoneSink) Name() string { return "none" }

func (NoneSink) ReplaceTable(context.Context, string, []string, [][]string) error { return nil }

func (NoneSink) UpsertRow(context.Context, string, []string, string, []string) (UpsertResult, error) {
	return UpsertResult{}, nil
}

func (NoneSink) DeleteRow(context.Context, string, string) error { return nil }
