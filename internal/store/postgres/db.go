package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"chatbackend/internal/domain"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               TEXT        PRIMARY KEY,
			first_name       TEXT        NOT NULL,
			last_name        TEXT        NOT NULL,
			email            TEXT        NOT NULL UNIQUE,
			hashed_password  TEXT        NOT NULL,
			is_admin         BOOLEAN     NOT NULL DEFAULT FALSE,
			token_version    INTEGER     NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT        PRIMARY KEY,
			pair_key          TEXT        NOT NULL UNIQUE,
			latest_message_id TEXT,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (conversation_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS group_chats (
			id                TEXT        PRIMARY KEY,
			name              TEXT        NOT NULL,
			admin_id          TEXT        NOT NULL REFERENCES users(id),
			latest_message_id TEXT,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS group_members (
			chat_id   TEXT        NOT NULL REFERENCES group_chats(id) ON DELETE CASCADE,
			user_id   TEXT        NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			joined_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (chat_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT        PRIMARY KEY,
			seq             BIGSERIAL,
			sender_id       TEXT        NOT NULL REFERENCES users(id),
			conversation_id TEXT        REFERENCES conversations(id) ON DELETE CASCADE,
			chat_id         TEXT        REFERENCES group_chats(id) ON DELETE CASCADE,
			content         TEXT        NOT NULL DEFAULT '',
			message_type    TEXT        NOT NULL,
			attachments     JSONB       NOT NULL DEFAULT '[]',
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,
			CHECK ((conversation_id IS NULL) <> (chat_id IS NULL))
		)`,

		`CREATE TABLE IF NOT EXISTS message_reads (
			message_id TEXT        NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id    TEXT        NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			read_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (message_id, user_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conv_participants_user ON conversation_participants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at, seq)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func roomColumns(room domain.RoomRef) (column, table string, err error) {
	switch room.Kind {
	case domain.RoomPrivate:
		return "conversation_id", "conversations", nil
	case domain.RoomGroup:
		return "chat_id", "group_chats", nil
	default:
		return "", "", domain.Errorf(domain.ErrInvalidInput, "unknown room kind %q", room.Kind)
	}
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func collectMembers(ctx context.Context, q querier, query string, args ...any) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make(map[string][]string)
	for rows.Next() {
		var roomID, userID string
		if err := rows.Scan(&roomID, &userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members[roomID] = append(members[roomID], userID)
	}
	return members, rows.Err()
}
