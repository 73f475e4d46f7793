package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// UpsertContact вставляет или обновляет контакт по user_id.
// Идентификационные поля перезаписываются свежими данными Telegram,
// first_seen сохраняет минимум, last_seen — максимум.
func (s *Store) UpsertContact(ctx context.Context, c Contact) error {
	return upsertContact(ctx, s.db, c)
}

// UpsertContactTx — вариант для использования внутри открытой транзакции.
func (s *Store) UpsertContactTx(ctx context.Context, tx *sql.Tx, c Contact) error {
	return upsertContact(ctx, tx, c)
}

func upsertContact(ctx context.Context, q dbtx, c Contact) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO contacts (user_id, username, first_name, last_name, phone,
			is_bot, is_verified, is_premium, total_messages, total_chats,
			activity_level, first_seen, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username    = excluded.username,
			first_name  = excluded.first_name,
			last_name   = excluded.last_name,
			phone       = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE contacts.phone END,
			is_bot      = excluded.is_bot,
			is_verified = excluded.is_verified,
			is_premium  = excluded.is_premium,
			first_seen  = CASE WHEN contacts.first_seen = 0 OR (excluded.first_seen != 0 AND excluded.first_seen < contacts.first_seen)
				THEN excluded.first_seen ELSE contacts.first_seen END,
			last_seen   = MAX(contacts.last_seen, excluded.last_seen),
			updated_at  = excluded.updated_at`,
		c.UserID, c.Username, c.FirstName, c.LastName, c.Phone,
		c.IsBot, c.IsVerified, c.IsPremium, c.TotalMessages, c.TotalChats,
		c.ActivityLevel, zeroOrUnix(c.FirstSeen), zeroOrUnix(c.LastSeen),
		zeroOrUnix(time.Now()))
	return errors.Wrap(err, "upsert contact")
}

// UpdateContactAggregates записывает производные поля контакта, посчитанные
// агрегацией сообщений.
func (s *Store) UpdateContactAggregates(ctx context.Context, tx *sql.Tx,
	userID int64, totalMessages, totalChats int, activity string, firstSeen, lastSeen time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE contacts SET
			total_messages = ?, total_chats = ?, activity_level = ?,
			first_seen = ?, last_seen = ?, updated_at = ?
		WHERE user_id = ?`,
		totalMessages, totalChats, activity,
		zeroOrUnix(firstSeen), zeroOrUnix(lastSeen), zeroOrUnix(time.Now()), userID)
	return errors.Wrap(err, "update contact aggregates")
}

// GetContact возвращает контакт или sql.ErrNoRows.
func (s *Store) GetContact(ctx context.Context, userID int64) (Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, first_name, last_name, phone,
			is_bot, is_verified, is_premium, total_messages, total_chats,
			activity_level, first_seen, last_seen, updated_at
		FROM contacts WHERE user_id = ?`, userID)
	return scanContact(row)
}

// ContactFilters сужают поиск SearchContacts.
type ContactFilters struct {
	ActivityLevel string
	MinMessages   int
	OnlyHumans    bool // отбросить ботов
}

// SearchContacts ищет контакты по подстроке в username/имени/фамилии с
// необязательными фильтрами. Порядок — по last_seen, свежие первыми.
func (s *Store) SearchContacts(ctx context.Context, query string, filters ContactFilters, limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 50
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT user_id, username, first_name, last_name, phone,
			is_bot, is_verified, is_premium, total_messages, total_chats,
			activity_level, first_seen, last_seen, updated_at
		FROM contacts WHERE 1=1`)
	args := make([]any, 0, 6)

	if q := strings.TrimSpace(query); q != "" {
		sb.WriteString(` AND (username LIKE ? OR first_name LIKE ? OR last_name LIKE ?)`)
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern, pattern)
	}
	if filters.ActivityLevel != "" {
		sb.WriteString(` AND activity_level = ?`)
		args = append(args, filters.ActivityLevel)
	}
	if filters.MinMessages > 0 {
		sb.WriteString(` AND total_messages >= ?`)
		args = append(args, filters.MinMessages)
	}
	if filters.OnlyHumans {
		sb.WriteString(` AND is_bot = 0`)
	}
	sb.WriteString(` ORDER BY last_seen DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "search contacts")
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, scanErr := scanContact(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ContactIDsWithMessages возвращает user_id всех контактов, у которых есть
// хотя бы одно сообщение. Порядок стабилен (по возрастанию id) для
// детерминизма обогащения.
func (s *Store) ContactIDsWithMessages(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT from_user_id FROM messages
		WHERE from_user_id != 0 ORDER BY from_user_id`)
	if err != nil {
		return nil, errors.Wrap(err, "contact ids with messages")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceChatParticipants атомарно перестраивает строки участников чата.
// Вызывается внутри транзакции обогащения.
func (s *Store) ReplaceChatParticipants(ctx context.Context, tx *sql.Tx, parts []ChatParticipant) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_participants`); err != nil {
		return errors.Wrap(err, "clear chat participants")
	}
	for _, p := range parts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id, message_count, first_seen, last_seen, engagement_level)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ChatID, p.UserID, p.MessageCount,
			zeroOrUnix(p.FirstSeen), zeroOrUnix(p.LastSeen), p.EngagementLevel); err != nil {
			return errors.Wrap(err, "insert chat participant")
		}
	}
	return nil
}

// ReplaceConversations перестраивает проекцию разговоров заново.
func (s *Store) ReplaceConversations(ctx context.Context, tx *sql.Tx, convs []Conversation) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return errors.Wrap(err, "clear conversations")
	}
	for _, c := range convs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (chat_id, user_id, message_count, business_relevance, first_date, last_date)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ChatID, c.UserID, c.MessageCount, c.BusinessRelevance,
			zeroOrUnix(c.FirstDate), zeroOrUnix(c.LastDate)); err != nil {
			return errors.Wrap(err, "insert conversation")
		}
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanContact(r rowScanner) (Contact, error) {
	var c Contact
	var firstSeen, lastSeen, updatedAt int64
	err := r.Scan(&c.UserID, &c.Username, &c.FirstName, &c.LastName, &c.Phone,
		&c.IsBot, &c.IsVerified, &c.IsPremium, &c.TotalMessages, &c.TotalChats,
		&c.ActivityLevel, &firstSeen, &lastSeen, &updatedAt)
	if err != nil {
		return Contact{}, err
	}
	c.FirstSeen = unixOrZero(firstSeen)
	c.LastSeen = unixOrZero(lastSeen)
	c.UpdatedAt = unixOrZero(updatedAt)
	return c, nil
}
