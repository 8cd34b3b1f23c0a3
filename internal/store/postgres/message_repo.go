package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatbackend/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, sender_id, conversation_id, chat_id, content, message_type, attachments, created_at, updated_at`

// Append stores the message and moves the room's latest-message pointer. The
// pointer update runs under a savepoint; Postgres aborts the whole transaction
// on a failed statement unless it is rolled back to one.
func (r *MessageRepo) Append(ctx context.Context, m *domain.Message) (bool, error) {
	if err := m.Room.Validate(); err != nil {
		return false, err
	}
	_, table, err := roomColumns(m.Room)
	if err != nil {
		return false, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	m.UpdatedAt = m.CreatedAt
	if m.Attachments == nil {
		m.Attachments = []domain.Attachment{}
	}
	m.ReadBy = []string{}

	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return false, fmt.Errorf("encode attachments: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.SenderID, m.Room.ConversationID(), m.Room.ChatID(), m.Content, string(m.Type), string(attachments), m.CreatedAt, m.UpdatedAt); err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT latest_pointer`); err != nil {
		return false, fmt.Errorf("savepoint: %w", err)
	}
	summaryUpdated := true
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET latest_message_id = $1, updated_at = $2 WHERE id = $3
	`, table), m.ID, m.CreatedAt, m.Room.ID); err != nil {
		summaryUpdated = false
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT latest_pointer`); rbErr != nil {
			return false, fmt.Errorf("rollback latest pointer: %w", rbErr)
		}
	}
	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT latest_pointer`); err != nil {
		return false, fmt.Errorf("release savepoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return summaryUpdated, nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}

	reads, err := collectMembers(ctx, r.db, `
		SELECT message_id, user_id FROM message_reads WHERE message_id = $1 ORDER BY read_at, user_id
	`, id)
	if err != nil {
		return nil, err
	}
	if rb := reads[id]; rb != nil {
		m.ReadBy = rb
	}
	return m, nil
}

func (r *MessageRepo) ListByRoom(ctx context.Context, room domain.RoomRef) ([]*domain.Message, error) {
	column, _, err := roomColumns(room)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE %s = $1
		ORDER BY created_at, seq
	`, messageColumns, column), room.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	reads, err := collectMembers(ctx, r.db, fmt.Sprintf(`
		SELECT r.message_id, r.user_id
		FROM message_reads r
		JOIN messages m ON m.id = r.message_id
		WHERE m.%s = $1
		ORDER BY r.read_at, r.user_id
	`, column), room.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if rb := reads[m.ID]; rb != nil {
			m.ReadBy = rb
		}
	}
	return msgs, nil
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id, content string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content = $1, updated_at = $2 WHERE id = $3`, content, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	m, err := scanMessage(tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	column, table, err := roomColumns(m.Room)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %[1]s SET latest_message_id = (
			SELECT id FROM messages WHERE %[2]s = $1 ORDER BY created_at DESC, seq DESC LIMIT 1
		)
		WHERE id = $1 AND latest_message_id = $2
	`, table, column), m.Room.ID, id); err != nil {
		return fmt.Errorf("repoint latest message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *MessageRepo) DeleteByRoom(ctx context.Context, room domain.RoomRef) (int64, error) {
	column, table, err := roomColumns(room)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM messages WHERE %s = $1`, column), room.ID)
	if err != nil {
		return 0, fmt.Errorf("delete room messages: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET latest_message_id = NULL WHERE id = $1`, table), room.ID); err != nil {
		return 0, fmt.Errorf("clear latest message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func (r *MessageRepo) MarkRoomRead(ctx context.Context, room domain.RoomRef, userID string) (int64, error) {
	column, _, err := roomColumns(room)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT id, $1, $2 FROM messages WHERE %s = $3 AND sender_id <> $1
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, column), userID, now(), room.ID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanMessage(s rowScanner) (*domain.Message, error) {
	m := &domain.Message{ReadBy: []string{}}
	var conversationID, chatID sql.NullString
	var msgType, attachments string
	if err := s.Scan(
		&m.ID,
		&m.SenderID,
		&conversationID,
		&chatID,
		&m.Content,
		&msgType,
		&attachments,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	room, err := domain.NewRoomRef(conversationID.String, chatID.String)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", m.ID, err)
	}
	m.Room = room
	m.Type = domain.MessageType(msgType)
	m.Attachments = []domain.Attachment{}
	if attachments != "" {
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	m.CreatedAt, m.UpdatedAt = m.CreatedAt.UTC(), m.UpdatedAt.UTC()
	return m, nil
}
