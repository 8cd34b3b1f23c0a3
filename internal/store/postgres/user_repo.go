package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"chatbackend/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

const userColumns = `id, first_name, last_name, email, hashed_password, is_admin, token_version, created_at, updated_at`

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	ts := now()
	u.CreatedAt, u.UpdatedAt = ts, ts

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.FirstName, u.LastName, u.Email, u.HashedPassword, u.IsAdmin, u.TokenVersion, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.Errorf(domain.ErrConflict, "email already registered")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
}

func (r *UserRepo) Search(ctx context.Context, query string, limit int) ([]*domain.User, error) {
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1
		ORDER BY first_name, last_name
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) UpdatePassword(ctx context.Context, id, hashedPassword string) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET hashed_password = $1, token_version = token_version + 1, updated_at = $2
		WHERE id = $3
		RETURNING token_version
	`, hashedPassword, now(), id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("update password: %w", err)
	}
	return version, nil
}

func (r *UserRepo) BumpTokenVersion(ctx context.Context, id string) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users SET token_version = token_version + 1, updated_at = $1
		WHERE id = $2
		RETURNING token_version
	`, now(), id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("bump token version: %w", err)
	}
	return version, nil
}

func (r *UserRepo) UpdateProfile(ctx context.Context, u *domain.User, bumpVersion bool) error {
	bump := 0
	if bumpVersion {
		bump = 1
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	ts := now()

	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET first_name = $1, last_name = $2, email = $3, token_version = token_version + $4, updated_at = $5
		WHERE id = $6
		RETURNING token_version
	`, u.FirstName, u.LastName, u.Email, bump, ts, u.ID).Scan(&u.TokenVersion)
	if isUniqueViolation(err) {
		return domain.Errorf(domain.ErrConflict, "email is already taken")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	u.UpdatedAt = ts
	return nil
}

// Delete removes the user in one transaction. Messages of the user's private
// conversations go before the conversation rows.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		name  string
		query string
		args  []any
	}{
		{"delete conversation messages", `
			DELETE FROM messages WHERE conversation_id IN (
				SELECT conversation_id FROM conversation_participants WHERE user_id = $1
			)`, []any{id}},
		{"delete conversations", `
			DELETE FROM conversations WHERE id IN (
				SELECT conversation_id FROM conversation_participants WHERE user_id = $1
			)`, []any{id}},
		{"delete sent messages", `DELETE FROM messages WHERE sender_id = $1`, []any{id}},
		{"delete orphaned groups", `
			DELETE FROM group_chats g WHERE g.admin_id = $1 AND NOT EXISTS (
				SELECT 1 FROM group_members m WHERE m.chat_id = g.id AND m.user_id <> $1
			)`, []any{id}},
		{"hand over groups", `
			UPDATE group_chats g SET admin_id = (
				SELECT m.user_id FROM group_members m
				WHERE m.chat_id = g.id AND m.user_id <> $1
				ORDER BY m.joined_at, m.user_id LIMIT 1
			)
			WHERE g.admin_id = $1`, []any{id}},
		{"repoint latest messages", `
			UPDATE group_chats g SET latest_message_id = (
				SELECT id FROM messages WHERE chat_id = g.id ORDER BY created_at DESC, seq DESC LIMIT 1
			)
			WHERE g.latest_message_id IS NOT NULL
			  AND NOT EXISTS (SELECT 1 FROM messages WHERE messages.id = g.latest_message_id)`, nil},
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanUserRow(s rowScanner) (*domain.User, error) {
	u := &domain.User{}
	if err := s.Scan(
		&u.ID,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&u.HashedPassword,
		&u.IsAdmin,
		&u.TokenVersion,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.CreatedAt, u.UpdatedAt = u.CreatedAt.UTC(), u.UpdatedAt.UTC()
	return u, nil
}

func (r *UserRepo) scanUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	u, err := scanUserRow(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
