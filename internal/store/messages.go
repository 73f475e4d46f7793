package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
)

// UpsertMessages сохраняет батч сообщений в одной транзакции и продвигает
// водяные знаки затронутых чатов. Естественный ключ — (chat_id, message_id):
// повторная загрузка идемпотентна, конкурентные вставки одного ключа дают
// ровно одну строку. Для мутабельных колонок (edit_date, текст) действует
// last-writer-wins; колонки обогащения при этом не затираются, кроме случая,
// когда текст реально изменился — тогда строка помечается на переобогащение.
// Возвращает число фактически новых строк.
func (s *Store) UpsertMessages(ctx context.Context, batch []Message) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var before int64
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&before); err != nil {
			return errors.Wrap(err, "count before batch")
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (chat_id, message_id, from_user_id, date, ciphertext,
				message_type, is_reply, is_forwarded, edit_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, message_id) DO UPDATE SET
				ciphertext = excluded.ciphertext,
				edit_date  = MAX(messages.edit_date, excluded.edit_date),
				enriched   = CASE WHEN excluded.edit_date > messages.edit_date
					THEN 0 ELSE messages.enriched END`)
		if err != nil {
			return errors.Wrap(err, "prepare upsert message")
		}
		defer stmt.Close()

		maxDates := make(map[int64]time.Time, 4)
		for _, m := range batch {
			if m.ChatID == 0 {
				// Сообщение без чата — нарушение инварианта, дефект вызывающего кода.
				return errors.Errorf("message %d has no chat", m.MessageID)
			}
			if _, execErr := stmt.ExecContext(ctx,
				m.ChatID, m.MessageID, m.FromUserID, zeroOrUnix(m.Date), m.Ciphertext,
				m.MessageType, m.IsReply, m.IsForwarded, zeroOrUnix(m.EditDate)); execErr != nil {
				return errors.Wrap(execErr, "upsert message")
			}

			if m.Date.After(maxDates[m.ChatID]) {
				maxDates[m.ChatID] = m.Date
			}
		}

		for chatID, maxDate := range maxDates {
			if err = setWatermark(ctx, tx, chatID, maxDate); err != nil {
				return err
			}
		}

		// UPSERT в RowsAffected не различает insert и update; дельта общего
		// счётчика внутри той же транзакции даёт точное число новых строк.
		var after int64
		if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&after); err != nil {
			return errors.Wrap(err, "count after batch")
		}
		inserted = int(after - before)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CountMessages возвращает общее число сообщений.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, errors.Wrap(err, "count messages")
}

// ListUnenriched возвращает сообщения без колонок обогащения, в стабильном
// порядке (chat_id, message_id), не больше limit.
func (s *Store) ListUnenriched(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE enriched = 0
		ORDER BY chat_id, message_id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list unenriched")
	}
	return collectMessages(rows)
}

// ListContactMessages возвращает последние limit сообщений контакта по убыванию даты.
func (s *Store) ListContactMessages(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE from_user_id = ?
		ORDER BY date DESC, message_id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list contact messages")
	}
	return collectMessages(rows)
}

// ContactMessageStats — агрегаты сообщений контакта для обогащения и скоринга.
type ContactMessageStats struct {
	TotalMessages  int
	DistinctChats  int
	FirstSeen      time.Time
	LastSeen       time.Time
	PositiveCount  int
	EnrichedCount  int
	BusinessCount  int
	TotalWordCount int
	Recent30Days   int
}

// ContactStats считает агрегаты одним проходом по индексу from_user_id.
// now передаётся явно ради детерминизма повторных прогонов в тестах.
func (s *Store) ContactStats(ctx context.Context, userID int64, now time.Time) (ContactMessageStats, error) {
	var st ContactMessageStats
	var first, last int64
	cutoff := now.AddDate(0, 0, -30).UTC().Unix()
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(DISTINCT chat_id),
			COALESCE(MIN(date), 0),
			COALESCE(MAX(date), 0),
			COALESCE(SUM(CASE WHEN sentiment = 'positive' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(enriched), 0),
			COALESCE(SUM(contains_business_keywords), 0),
			COALESCE(SUM(word_count), 0),
			COALESCE(SUM(CASE WHEN date >= ? THEN 1 ELSE 0 END), 0)
		FROM messages WHERE from_user_id = ?`, cutoff, userID).
		Scan(&st.TotalMessages, &st.DistinctChats, &first, &last,
			&st.PositiveCount, &st.EnrichedCount, &st.BusinessCount,
			&st.TotalWordCount, &st.Recent30Days)
	if err != nil {
		return ContactMessageStats{}, errors.Wrap(err, "contact stats")
	}
	st.FirstSeen = unixOrZero(first)
	st.LastSeen = unixOrZero(last)
	return st, nil
}

// ParticipantRow — счётчики пары (chat, user) для перестройки участников
// и проекции разговоров.
type ParticipantRow struct {
	ChatID        int64
	UserID        int64
	Count         int
	BusinessCount int
	FirstSeen     time.Time
	LastSeen      time.Time
}

// ParticipantCounts группирует сообщения по (chat_id, from_user_id).
func (s *Store) ParticipantCounts(ctx context.Context) ([]ParticipantRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, from_user_id, COUNT(*),
			COALESCE(SUM(contains_business_keywords), 0), MIN(date), MAX(date)
		FROM messages WHERE from_user_id != 0
		GROUP BY chat_id, from_user_id
		ORDER BY chat_id, from_user_id`)
	if err != nil {
		return nil, errors.Wrap(err, "participant counts")
	}
	defer rows.Close()

	var out []ParticipantRow
	for rows.Next() {
		var p ParticipantRow
		var first, last int64
		if err = rows.Scan(&p.ChatID, &p.UserID, &p.Count, &p.BusinessCount, &first, &last); err != nil {
			return nil, err
		}
		p.FirstSeen = unixOrZero(first)
		p.LastSeen = unixOrZero(last)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateMessageEnrichment записывает колонки обогащения одной строки внутри
// транзакции батча.
func (s *Store) UpdateMessageEnrichment(ctx context.Context, tx *sql.Tx, m Message) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE messages SET
			enriched = 1, word_count = ?, time_of_day = ?, day_of_week = ?,
			length_category = ?, sentiment = ?, contains_business_keywords = ?,
			is_question = ?, contains_media = ?, contains_links = ?, content_category = ?
		WHERE chat_id = ? AND message_id = ?`,
		m.WordCount, m.TimeOfDay, m.DayOfWeek,
		m.LengthCategory, m.Sentiment, m.ContainsBusinessKeywords,
		m.IsQuestion, m.ContainsMedia, m.ContainsLinks, m.ContentCategory,
		m.ChatID, m.MessageID)
	return errors.Wrap(err, "update enrichment")
}

// ListMessagesMeta возвращает метаданные всех сообщений (без шифртекста) для
// полной проекции. Текст никогда не покидает хранилище через этот путь.
func (s *Store) ListMessagesMeta(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, message_id, from_user_id, date, x'' AS ciphertext,
			message_type, is_reply, is_forwarded, edit_date,
			enriched, word_count, time_of_day, day_of_week, length_category,
			sentiment, contains_business_keywords, is_question,
			contains_media, contains_links, content_category
		FROM messages ORDER BY chat_id, date LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list messages meta")
	}
	return collectMessages(rows)
}

// GetMessage возвращает одну строку по натуральному ключу.
func (s *Store) GetMessage(ctx context.Context, chatID, messageID int64) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	return scanMessage(row)
}

const messageColumns = `chat_id, message_id, from_user_id, date, ciphertext,
	message_type, is_reply, is_forwarded, edit_date,
	enriched, word_count, time_of_day, day_of_week, length_category,
	sentiment, contains_business_keywords, is_question,
	contains_media, contains_links, content_category`

func scanMessage(r rowScanner) (Message, error) {
	var m Message
	var date, edit int64
	err := r.Scan(&m.ChatID, &m.MessageID, &m.FromUserID, &date, &m.Ciphertext,
		&m.MessageType, &m.IsReply, &m.IsForwarded, &edit,
		&m.Enriched, &m.WordCount, &m.TimeOfDay, &m.DayOfWeek, &m.LengthCategory,
		&m.Sentiment, &m.ContainsBusinessKeywords, &m.IsQuestion,
		&m.ContainsMedia, &m.ContainsLinks, &m.ContentCategory)
	if err != nil {
		return Message{}, err
	}
	m.Date = unixOrZero(date)
	m.EditDate = unixOrZero(edit)
	return m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
