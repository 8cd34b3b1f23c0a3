package postgres

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

// GetOrCreatePrivate inserts with ON CONFLICT DO NOTHING on pair_key. A racing
// transaction blocks on the unique index until the winner commits and then
// reads the winner's row.
func (r *ConversationRepo) GetOrCreatePrivate(ctx context.Context, userA, userB string) (*domain.Conversation, bool, error) {
	key := domain.PairKey(userA, userB)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	var id string
	created := true
	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversations (id, pair_key, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING id
	`, uuid.NewString(), key, ts).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE pair_key = $1`, key).Scan(&id)
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert conversation: %w", err)
	}

	if created {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)
		`, id, userA, userB); err != nil {
			return nil, false, fmt.Errorf("insert participants: %w", err)
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
		WHERE id = $1
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
		WHERE conversation_id = $1
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
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		var latest sql.NullString
		if err := rows.Scan(&c.ID, &latest, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.LatestMessageID = nullableString(latest)
		c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	members, err := collectMembers(ctx, r.db, `
		SELECT conversation_id, user_id FROM conversation_participants
		WHERE conversation_id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = $1)
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
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
