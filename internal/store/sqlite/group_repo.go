package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"chatbackend/internal/domain"
)

type GroupRepo struct {
	db *sql.DB
}

func NewGroupRepo(db *sql.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

var _ domain.GroupRepository = (*GroupRepo)(nil)

func (r *GroupRepo) Create(ctx context.Context, g *domain.GroupChat) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.IsGroup = true
	ts := now()
	g.CreatedAt, g.UpdatedAt = ts, ts

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_chats (id, name, admin_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, g.ID, g.Name, g.AdminID, g.CreatedAt, g.UpdatedAt); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	for _, uid := range g.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (chat_id, user_id, joined_at) VALUES (?, ?, ?)
		`, g.ID, uid, ts); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *GroupRepo) GetByID(ctx context.Context, id string) (*domain.GroupChat, error) {
	g := &domain.GroupChat{IsGroup: true}
	var latest sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, admin_id, latest_message_id, created_at, updated_at
		FROM group_chats
		WHERE id = ?
	`, id).Scan(&g.ID, &g.Name, &g.AdminID, &latest, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	g.LatestMessageID = nullableString(latest)
	g.CreatedAt, g.UpdatedAt = g.CreatedAt.UTC(), g.UpdatedAt.UTC()

	members, err := collectMembers(ctx, r.db, `
		SELECT chat_id, user_id FROM group_members
		WHERE chat_id = ?
		ORDER BY joined_at, user_id
	`, id)
	if err != nil {
		return nil, err
	}
	g.Participants = members[id]
	return g, nil
}

func (r *GroupRepo) ListForUser(ctx context.Context, userID string) ([]*domain.GroupChat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.admin_id, g.latest_message_id, g.created_at, g.updated_at
		FROM group_chats g
		JOIN group_members m ON m.chat_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	var groups []*domain.GroupChat
	for rows.Next() {
		g := &domain.GroupChat{IsGroup: true}
		var latest sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &g.AdminID, &latest, &g.CreatedAt, &g.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.LatestMessageID = nullableString(latest)
		g.CreatedAt, g.UpdatedAt = g.CreatedAt.UTC(), g.UpdatedAt.UTC()
		groups = append(groups, g)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	members, err := collectMembers(ctx, r.db, `
		SELECT chat_id, user_id FROM group_members
		WHERE chat_id IN (SELECT chat_id FROM group_members WHERE user_id = ?)
		ORDER BY joined_at, user_id
	`, userID)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		g.Participants = members[g.ID]
	}
	return groups, nil
}

func (r *GroupRepo) AddMember(ctx context.Context, groupID, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (chat_id, user_id, joined_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id, user_id) DO NOTHING
	`, groupID, userID, ts)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.ErrConflict, "user is already a member of this chat")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE group_chats SET updated_at = ? WHERE id = ?`, ts, groupID); err != nil {
		return fmt.Errorf("touch group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *GroupRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
