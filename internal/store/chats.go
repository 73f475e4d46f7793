package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
)

// UpsertChat вставляет или обновляет чат по chat_id.
// Даты первого/последнего сообщения монотонно расширяются.
func (s *Store) UpsertChat(ctx context.Context, c Chat) error {
	return upsertChat(ctx, s.db, c)
}

// UpsertChatTx — вариант для открытой транзакции.
func (s *Store) UpsertChatTx(ctx context.Context, tx *sql.Tx, c Chat) error {
	return upsertChat(ctx, tx, c)
}

func upsertChat(ctx context.Context, q dbtx, c Chat) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO chats (chat_id, chat_type, title, username, participant_count,
			first_message_date, last_message_date, total_messages, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			chat_type         = excluded.chat_type,
			title             = excluded.title,
			username          = excluded.username,
			participant_count = CASE WHEN excluded.participant_count > 0
				THEN excluded.participant_count ELSE chats.participant_count END,
			first_message_date = CASE WHEN chats.first_message_date = 0
				OR (excluded.first_message_date != 0 AND excluded.first_message_date < chats.first_message_date)
				THEN excluded.first_message_date ELSE chats.first_message_date END,
			last_message_date = MAX(chats.last_message_date, excluded.last_message_date),
			updated_at        = excluded.updated_at`,
		c.ChatID, c.ChatType, c.Title, c.Username, c.ParticipantCount,
		zeroOrUnix(c.FirstMessageDate), zeroOrUnix(c.LastMessageDate),
		c.TotalMessages, zeroOrUnix(time.Now()))
	return errors.Wrap(err, "upsert chat")
}

// GetChat возвращает чат или sql.ErrNoRows.
func (s *Store) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	var c Chat
	var first, last, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, chat_type, title, username, participant_count,
			first_message_date, last_message_date, total_messages, updated_at
		FROM chats WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.ChatType, &c.Title, &c.Username, &c.ParticipantCount,
			&first, &last, &c.TotalMessages, &updated)
	if err != nil {
		return Chat{}, err
	}
	c.FirstMessageDate = unixOrZero(first)
	c.LastMessageDate = unixOrZero(last)
	c.UpdatedAt = unixOrZero(updated)
	return c, nil
}

// ListChats возвращает все чаты по возрастанию chat_id.
func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, chat_type, title, username, participant_count,
			first_message_date, last_message_date, total_messages, updated_at
		FROM chats ORDER BY chat_id`)
	if err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var c Chat
		var first, last, updated int64
		if err = rows.Scan(&c.ChatID, &c.ChatType, &c.Title, &c.Username, &c.ParticipantCount,
			&first, &last, &c.TotalMessages, &updated); err != nil {
			return nil, err
		}
		c.FirstMessageDate = unixOrZero(first)
		c.LastMessageDate = unixOrZero(last)
		c.UpdatedAt = unixOrZero(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateChatTotals пересчитывает суммарные счётчики чата из сообщений.
func (s *Store) UpdateChatTotals(ctx context.Context, tx *sql.Tx, chatID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE chats SET
			total_messages = (SELECT COUNT(*) FROM messages WHERE chat_id = ?),
			updated_at = ?
		WHERE chat_id = ?`, chatID, zeroOrUnix(time.Now()), chatID)
	return errors.Wrap(err, "update chat totals")
}

// Watermark возвращает max(date) успешно сохранённых сообщений чата.
// Нулевое время — чат ещё не загружался; следующий прогон заберёт историю целиком.
func (s *Store) Watermark(ctx context.Context, chatID int64) (time.Time, error) {
	var sec int64
	err := s.db.QueryRowContext(ctx,
		`SELECT max_date FROM watermarks WHERE chat_id = ?`, chatID).Scan(&sec)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "read watermark")
	}
	return unixOrZero(sec), nil
}

// SetWatermarkTx продвигает водяной знак чата вперёд; назад не двигается.
// Вызывается в той же транзакции, что и батч сообщений, — это гарантирует
// O(Δ) стоимость инкрементального прогона без потерь при сбоях.
func (s *Store) SetWatermarkTx(ctx context.Context, tx *sql.Tx, chatID int64, maxDate time.Time) error {
	return setWatermark(ctx, tx, chatID, maxDate)
}

func setWatermark(ctx context.Context, q dbtx, chatID int64, maxDate time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO watermarks (chat_id, max_date) VALUES (?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			max_date = MAX(watermarks.max_date, excluded.max_date)`,
		chatID, zeroOrUnix(maxDate))
	return errors.Wrap(err, "set watermark")
}
