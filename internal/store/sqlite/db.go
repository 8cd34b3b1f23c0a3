package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chatbackend/internal/domain"
)

// Open opens the SQLite database file at path with foreign keys enforced.
// SQLite allows a single writer, so the pool is capped at one connection and
// every repository method runs its statements through that connection.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Migrate creates the schema. Statements are idempotent.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			hashed_password TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT 0,
			token_version INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			pair_key TEXT NOT NULL UNIQUE,
			latest_message_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (conversation_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS group_chats (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			admin_id TEXT NOT NULL REFERENCES users(id),
			latest_message_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS group_members (
			chat_id TEXT NOT NULL REFERENCES group_chats(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			joined_at DATETIME NOT NULL,
			PRIMARY KEY (chat_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL REFERENCES users(id),
			conversation_id TEXT REFERENCES conversations(id) ON DELETE CASCADE,
			chat_id TEXT REFERENCES group_chats(id) ON DELETE CASCADE,
			content TEXT NOT NULL DEFAULT '',
			message_type TEXT NOT NULL,
			attachments TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			CHECK ((conversation_id IS NULL) <> (chat_id IS NULL))
		);`,
		`CREATE TABLE IF NOT EXISTS message_reads (
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			read_at DATETIME NOT NULL,
			PRIMARY KEY (message_id, user_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conv_participants_user ON conversation_participants(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx. Code running inside a
// transaction must use the tx; the single pooled connection is already held.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// roomColumns returns the messages column and the room table for a reference.
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
