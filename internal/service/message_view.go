package service

import (
	"log/slog"
	"time"

	"chatbackend/internal/domain"
	"chatbackend/internal/security"
)

const undecryptablePlaceholder = "[message could not be decrypted]"

// MessageView is a message as clients see it: plaintext content and the room
// expressed as exactly one of conversationId or chatId.
type MessageView struct {
	ID             string              `json:"id"`
	Sender         string              `json:"sender"`
	ConversationID *string             `json:"conversationId,omitempty"`
	ChatID         *string             `json:"chatId,omitempty"`
	Content        string              `json:"content"`
	Type           domain.MessageType  `json:"type"`
	Attachments    []domain.Attachment `json:"attachments"`
	ReadBy         []string            `json:"readBy"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`

	Room domain.RoomRef `json:"-"`
}

// viewer turns stored messages into views.
type viewer struct {
	enc *security.Encryptor
	log *slog.Logger
}

func (v viewer) view(m *domain.Message) *MessageView {
	content, err := v.enc.Decrypt(m.Content)
	if err != nil {
		v.log.Warn("message content could not be decrypted", "message_id", m.ID, "error", err)
		content = undecryptablePlaceholder
	}
	attachments := m.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return &MessageView{
		ID:             m.ID,
		Sender:         m.SenderID,
		ConversationID: m.Room.ConversationID(),
		ChatID:         m.Room.ChatID(),
		Content:        content,
		Type:           m.Type,
		Attachments:    attachments,
		ReadBy:         readBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		Room:           m.Room,
	}
}
