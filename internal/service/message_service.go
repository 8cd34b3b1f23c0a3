package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"chatbackend/internal/domain"
	"chatbackend/internal/security"
)

// MaxContentLength bounds message text, counted in runes.
const MaxContentLength = 5000

// RoomAuthorizer is the membership check the message rules depend on.
type RoomAuthorizer interface {
	Authorize(ctx context.Context, room domain.RoomRef, userID string) error
}

type MessageService struct {
	messages  domain.MessageRepository
	rooms     RoomAuthorizer
	encryptor *security.Encryptor
	viewer    viewer
	log       *slog.Logger
}

func NewMessageService(
	messages domain.MessageRepository,
	rooms RoomAuthorizer,
	encryptor *security.Encryptor,
	log *slog.Logger,
) *MessageService {
	return &MessageService{
		messages:  messages,
		rooms:     rooms,
		encryptor: encryptor,
		viewer:    viewer{enc: encryptor, log: log},
		log:       log,
	}
}

type SendInput struct {
	ConversationID string
	ChatID         string
	Content        string
	Type           domain.MessageType
	Attachments    []domain.Attachment
}

// Send validates, authorizes and persists a message. The room's latest-message
// pointer is moved in the same store transaction; if only that part fails the
// message is kept and the stale summary is logged.
func (s *MessageService) Send(ctx context.Context, senderID string, in SendInput) (*MessageView, error) {
	room, err := domain.NewRoomRef(in.ConversationID, in.ChatID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" && len(in.Attachments) == 0 {
		return nil, domain.Errorf(domain.ErrInvalidInput, "message content or an attachment is required")
	}
	if len([]rune(in.Content)) > MaxContentLength {
		return nil, domain.Errorf(domain.ErrInvalidInput, "message content exceeds %d characters", MaxContentLength)
	}
	for _, a := range in.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return nil, domain.Errorf(domain.ErrInvalidInput, "attachment url is required")
		}
	}
	msgType, err := resolveType(in.Type, in.Attachments)
	if err != nil {
		return nil, err
	}

	if err := s.rooms.Authorize(ctx, room, senderID); err != nil {
		return nil, err
	}

	encrypted, err := s.encryptor.Encrypt(in.Content)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}
	msg := &domain.Message{
		SenderID:    senderID,
		Room:        room,
		Content:     encrypted,
		Type:        msgType,
		Attachments: in.Attachments,
	}
	summaryUpdated, err := s.messages.Append(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if !summaryUpdated {
		s.log.Warn("message stored but room summary not updated", "message_id", msg.ID, "room", room.String())
	}

	view := s.viewer.view(msg)
	view.Content = in.Content
	return view, nil
}

// resolveType applies the default: text without attachments, otherwise the
// first attachment's kind when it is an image or video, else file.
func resolveType(t domain.MessageType, attachments []domain.Attachment) (domain.MessageType, error) {
	if t != "" {
		if !t.Valid() {
			return "", domain.Errorf(domain.ErrInvalidInput, "unknown message type %q", t)
		}
		return t, nil
	}
	if len(attachments) == 0 {
		return domain.MessageText, nil
	}
	switch first := domain.MessageType(attachments[0].FileType); first {
	case domain.MessageImage, domain.MessageVideo:
		return first, nil
	default:
		return domain.MessageFile, nil
	}
}

// List returns the room's full history, oldest first.
func (s *MessageService) List(ctx context.Context, room domain.RoomRef, userID string) ([]*MessageView, error) {
	if err := s.rooms.Authorize(ctx, room, userID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByRoom(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return lo.Map(msgs, func(m *domain.Message, _ int) *MessageView {
		return s.viewer.view(m)
	}), nil
}

// Edit replaces the content of a message. Only the sender may edit; the
// attachments and creation time are left as they are.
func (s *MessageService) Edit(ctx context.Context, messageID, requesterID, content string) (*MessageView, error) {
	msg, err := s.get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, domain.Errorf(domain.ErrForbidden, "only the sender can edit this message")
	}
	if strings.TrimSpace(content) == "" && len(msg.Attachments) == 0 {
		return nil, domain.Errorf(domain.ErrInvalidInput, "message content cannot be empty")
	}
	if len([]rune(content)) > MaxContentLength {
		return nil, domain.Errorf(domain.ErrInvalidInput, "message content exceeds %d characters", MaxContentLength)
	}

	encrypted, err := s.encryptor.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}
	if err := s.messages.UpdateContent(ctx, messageID, encrypted, time.Now()); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	updated, err := s.get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return s.viewer.view(updated), nil
}

// Remove deletes a message. The sender and admins may delete. The room is
// returned so the caller can notify its subscribers.
func (s *MessageService) Remove(ctx context.Context, messageID string, requester *domain.User) (domain.RoomRef, error) {
	msg, err := s.get(ctx, messageID)
	if err != nil {
		return domain.RoomRef{}, err
	}
	if msg.SenderID != requester.ID && !requester.IsAdmin {
		return domain.RoomRef{}, domain.Errorf(domain.ErrForbidden, "only the sender can delete this message")
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RoomRef{}, domain.Errorf(domain.ErrNotFound, "message not found")
		}
		return domain.RoomRef{}, fmt.Errorf("delete message: %w", err)
	}
	return msg.Room, nil
}

// MarkRead records that userID has read every message in the room sent by
// someone else.
func (s *MessageService) MarkRead(ctx context.Context, room domain.RoomRef, userID string) (int64, error) {
	if err := s.rooms.Authorize(ctx, room, userID); err != nil {
		return 0, err
	}
	n, err := s.messages.MarkRoomRead(ctx, room, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

func (s *MessageService) get(ctx context.Context, id string) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Errorf(domain.ErrNotFound, "message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}
