package store

import (
	"context"

	"github.com/go-faster/errors"
)

// Чтение полных таблиц для выгрузки проекции. Порядок строк стабилен от
// прогона к прогону: выгрузка одного и того же состояния байтово одинакова.

// ListContacts возвращает все контакты по возрастанию user_id.
func (s *Store) ListContacts(ctx context.Context) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, first_name, last_name, phone,
			is_bot, is_verified, is_premium, total_messages, total_chats,
			activity_level, first_seen, last_seen, updated_at
		FROM contacts ORDER BY user_id`)
	if err != nil {
		return nil, errors.Wrap(err, "list contacts")
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

// ListConversations возвращает присутствия контактов в чатах по (chat_id, user_id).
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, user_id, message_count, business_relevance, first_date, last_date
		FROM conversations ORDER BY chat_id, user_id`)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var first, last int64
		if err = rows.Scan(&c.ChatID, &c.UserID, &c.MessageCount,
			&c.BusinessRelevance, &first, &last); err != nil {
			return nil, errors.Wrap(err, "scan conversation")
		}
		c.FirstDate = unixOrZero(first)
		c.LastDate = unixOrZero(last)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListOpportunities возвращает все возможности по opportunity_id.
func (s *Store) ListOpportunities(ctx context.Context) ([]Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT opportunity_id, lead_id, opportunity_type, estimated_value,
			probability, timeline, stage, next_steps, created_at
		FROM opportunities ORDER BY opportunity_id`)
	if err != nil {
		return nil, errors.Wrap(err, "list opportunities")
	}
	defer rows.Close()

	var out []Opportunity
	for rows.Next() {
		o, scanErr := scanOpportunity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
