package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"chatbackend/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

// GetOrCreatePrivate relies on the unique pair_key: a racing insert for the
// same pair becomes a no-op and both callers read back the same row.
func (r *ConversationRepo) GetOrCreatePrivate(ctx context.Context, userA, userB string) (*domain.Conversation, bool, error) {
	key := domain.PairKey(userA, userB)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pair_key) DO NOTHING
	`, uuid.NewString(), key, ts, ts)
	if err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	created := n == 1

	var id string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE pair_key = ?`, key).Scan(&id); err != nil {
		return nil, false, fmt.Errorf("select conversation: %w", err)
	}

	if created {
		for _, uid := range []string{userA, userB} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)
			`, id, uid); err != nil {
				return nil, false, fmt.Errorf("insert participant: %w", err)
			}
		}
	}

	c, err := getConversation(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return c, created, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	return getConversation(ctx, r.db, id)
}

func getConversation(ctx context.Context, q querier, id string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	var latest sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, latest_message_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id).Scan(&c.ID, &latest, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.LatestMessageID = nullableString(latest)
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()

	members, err := collectMembers(ctx, q, `
		SELECT conversation_id, user_id FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY user_id
	`, id)
	if err != nil {
		return nil, err
	}
	c.Participants = members[id]
	return c, nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.latest_message_id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	var convs []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		var latest sql.NullString
		if err := rows.Scan(&c.ID, &latest, &c.CreatedAt, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.LatestMessageID = nullableString(latest)
		c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
		convs = append(convs, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	members, err := collectMembers(ctx, r.db, `
		SELECT conversation_id, user_id FROM conversation_participants
		WHERE conversation_id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = ?)
		ORDER BY user_id
	`, userID)
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		c.Participants = members[c.ID]
	}
	return convs, nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// collectMembers runs a (room id, user id) query and groups users by room.
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
