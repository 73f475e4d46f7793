package store

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-bdintel/internal/infra/logger"
)

// ErrSchemaAhead — база создана более новой версией бинаря. Откаты схемы
// не поддерживаются: процесс обязан завершиться и дать оператору обновиться.
var ErrSchemaAhead = errors.New("store: database schema is ahead of this binary")

// migration — один forward-only шаг схемы. Шаги применяются строго по
// возрастанию версии, каждый прогон — внутри одной транзакции.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations — полный упорядоченный список. Новые шаги добавляются в конец;
// существующие никогда не редактируются.
var migrations = []migration{
	{
		version: 1,
		name:    "base schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS contacts (
				user_id        INTEGER PRIMARY KEY,
				username       TEXT NOT NULL DEFAULT '',
				first_name     TEXT NOT NULL DEFAULT '',
				last_name      TEXT NOT NULL DEFAULT '',
				phone          TEXT NOT NULL DEFAULT '',
				is_bot         INTEGER NOT NULL DEFAULT 0,
				is_verified    INTEGER NOT NULL DEFAULT 0,
				is_premium     INTEGER NOT NULL DEFAULT 0,
				total_messages INTEGER NOT NULL DEFAULT 0,
				total_chats    INTEGER NOT NULL DEFAULT 0,
				activity_level TEXT NOT NULL DEFAULT '',
				first_seen     INTEGER NOT NULL DEFAULT 0,
				last_seen      INTEGER NOT NULL DEFAULT 0,
				updated_at     INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS chats (
				chat_id            INTEGER PRIMARY KEY,
				chat_type          TEXT NOT NULL,
				title              TEXT NOT NULL DEFAULT '',
				username           TEXT NOT NULL DEFAULT '',
				participant_count  INTEGER NOT NULL DEFAULT 0,
				first_message_date INTEGER NOT NULL DEFAULT 0,
				last_message_date  INTEGER NOT NULL DEFAULT 0,
				total_messages     INTEGER NOT NULL DEFAULT 0,
				updated_at         INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS chat_participants (
				chat_id          INTEGER NOT NULL,
				user_id          INTEGER NOT NULL,
				message_count    INTEGER NOT NULL DEFAULT 0,
				first_seen       INTEGER NOT NULL DEFAULT 0,
				last_seen        INTEGER NOT NULL DEFAULT 0,
				engagement_level TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (chat_id, user_id)
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				chat_id      INTEGER NOT NULL,
				message_id   INTEGER NOT NULL,
				from_user_id INTEGER NOT NULL DEFAULT 0,
				date         INTEGER NOT NULL,
				ciphertext   BLOB NOT NULL,
				message_type TEXT NOT NULL DEFAULT 'text',
				is_reply     INTEGER NOT NULL DEFAULT 0,
				is_forwarded INTEGER NOT NULL DEFAULT 0,
				edit_date    INTEGER NOT NULL DEFAULT 0,

				enriched                   INTEGER NOT NULL DEFAULT 0,
				word_count                 INTEGER NOT NULL DEFAULT 0,
				time_of_day                TEXT NOT NULL DEFAULT '',
				day_of_week                TEXT NOT NULL DEFAULT '',
				length_category            TEXT NOT NULL DEFAULT '',
				sentiment                  TEXT NOT NULL DEFAULT '',
				contains_business_keywords INTEGER NOT NULL DEFAULT 0,
				is_question                INTEGER NOT NULL DEFAULT 0,
				contains_media             INTEGER NOT NULL DEFAULT 0,
				contains_links             INTEGER NOT NULL DEFAULT 0,
				content_category           TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (chat_id, message_id)
			)`,
			`CREATE TABLE IF NOT EXISTS conversations (
				chat_id            INTEGER NOT NULL,
				user_id            INTEGER NOT NULL,
				message_count      INTEGER NOT NULL DEFAULT 0,
				business_relevance REAL NOT NULL DEFAULT 0,
				first_date         INTEGER NOT NULL DEFAULT 0,
				last_date          INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (chat_id, user_id)
			)`,
			`CREATE TABLE IF NOT EXISTS leads (
				lead_id               TEXT PRIMARY KEY,
				user_id               INTEGER NOT NULL UNIQUE,
				bd_score              REAL NOT NULL DEFAULT 0,
				intelligence_score    INTEGER NOT NULL DEFAULT 0,
				conversion_likelihood REAL NOT NULL DEFAULT 0,
				lead_quality          TEXT NOT NULL DEFAULT '',
				priority              TEXT NOT NULL DEFAULT '',
				estimated_value       REAL NOT NULL DEFAULT 0,
				investment_capacity   TEXT NOT NULL DEFAULT '',
				deal_size_category    TEXT NOT NULL DEFAULT '',
				relationship_strength TEXT NOT NULL DEFAULT '',

				business_keywords      TEXT NOT NULL DEFAULT '[]',
				investment_keywords    TEXT NOT NULL DEFAULT '[]',
				technology_expertise   TEXT NOT NULL DEFAULT '[]',
				decision_maker_signals TEXT NOT NULL DEFAULT '[]',
				network_influence      TEXT NOT NULL DEFAULT '[]',
				trust_indicators       TEXT NOT NULL DEFAULT '[]',
				financial_indicators   TEXT NOT NULL DEFAULT '[]',

				personalized_message TEXT NOT NULL DEFAULT '',
				meeting_agenda       TEXT NOT NULL DEFAULT '',
				call_to_action       TEXT NOT NULL DEFAULT '',
				follow_up_timing     TEXT NOT NULL DEFAULT '',

				updated_at INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS follow_ups (
				follow_up_id TEXT PRIMARY KEY,
				lead_id      TEXT NOT NULL,
				action_type  TEXT NOT NULL DEFAULT '',
				description  TEXT NOT NULL DEFAULT '',
				priority     TEXT NOT NULL DEFAULT '',
				due_date     INTEGER NOT NULL DEFAULT 0,
				status       TEXT NOT NULL DEFAULT 'pending',
				created_at   INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS opportunities (
				opportunity_id   TEXT PRIMARY KEY,
				lead_id          TEXT NOT NULL,
				opportunity_type TEXT NOT NULL DEFAULT '',
				estimated_value  REAL NOT NULL DEFAULT 0,
				probability      REAL NOT NULL DEFAULT 0,
				timeline         TEXT NOT NULL DEFAULT '',
				stage            TEXT NOT NULL DEFAULT '',
				next_steps       TEXT NOT NULL DEFAULT '[]',
				created_at       INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS sync_tasks (
				sync_id      TEXT PRIMARY KEY,
				table_name   TEXT NOT NULL,
				record_id    TEXT NOT NULL,
				operation    TEXT NOT NULL,
				state        TEXT NOT NULL DEFAULT 'pending',
				attempts     INTEGER NOT NULL DEFAULT 0,
				last_error   TEXT NOT NULL DEFAULT '',
				enqueued_at  INTEGER NOT NULL,
				completed_at INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS watermarks (
				chat_id  INTEGER PRIMARY KEY,
				max_date INTEGER NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "query indexes",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_messages_chat_date ON messages (chat_id, date)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_from_user ON messages (from_user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_business ON messages (contains_business_keywords)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_sentiment ON messages (sentiment)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_enriched ON messages (enriched)`,
			`CREATE INDEX IF NOT EXISTS idx_leads_score ON leads (intelligence_score)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_state ON sync_tasks (state, table_name, enqueued_at)`,
		},
	},
}

// migrate применяет недостающие шаги схемы внутри одной транзакции.
// Версия в schema_version гейтит прогресс; база новее бинаря → ErrSchemaAhead.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return errors.Wrap(err, "create schema_version")
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := currentVersion(ctx, tx)
		if err != nil {
			return err
		}

		latest := migrations[len(migrations)-1].version
		if current > latest {
			return errors.Wrapf(ErrSchemaAhead, "db version %d, binary supports %d", current, latest)
		}
		if current == latest {
			return nil
		}

		for _, m := range migrations {
			if m.version <= current {
				continue
			}
			for _, stmt := range m.stmts {
				if _, err = tx.ExecContext(ctx, stmt); err != nil {
					return errors.Wrapf(err, "migration %d (%s)", m.version, m.name)
				}
			}
			logger.Info("applied schema migration",
				zap.Int("version", m.version), zap.String("name", m.name))
		}

		if _, err = tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			return errors.Wrap(err, "reset schema_version")
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO schema_version (version) VALUES (?)`, latest); err != nil {
			return errors.Wrap(err, "store schema_version")
		}
		return nil
	})
}

// currentVersion читает версию схемы; пустая таблица означает версию 0.
func currentVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var version int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, errors.Wrap(err, "read schema_version")
	}
	return version, nil
}
