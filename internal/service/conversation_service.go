package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"chatbackend/internal/domain"
	"chatbackend/internal/security"
)

// MinGroupSize is the smallest group a user may create, creator included.
const MinGroupSize = 3

// ConversationService owns private conversations and group chats and answers
// membership questions for every room-scoped operation.
type ConversationService struct {
	conversations domain.ConversationRepository
	groups        domain.GroupRepository
	messages      domain.MessageRepository
	users         domain.UserRepository
	viewer        viewer
	log           *slog.Logger
}

func NewConversationService(
	conversations domain.ConversationRepository,
	groups domain.GroupRepository,
	messages domain.MessageRepository,
	users domain.UserRepository,
	enc *security.Encryptor,
	log *slog.Logger,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		groups:        groups,
		messages:      messages,
		users:         users,
		viewer:        viewer{enc: enc, log: log},
		log:           log,
	}
}

type GroupCreateInput struct {
	Name      string
	MemberIDs []string
}

// RoomSummary is one entry of a user's chat list.
type RoomSummary struct {
	ID            string       `json:"id"`
	IsGroup       bool         `json:"isGroup"`
	Name          string       `json:"name,omitempty"`
	Participants  []string     `json:"participants"`
	Admin         string       `json:"admin,omitempty"`
	LatestMessage *MessageView `json:"latestMessage,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// GetOrCreatePrivate returns the conversation between requester and receiver,
// creating it on first use. created reports whether this call created it.
func (s *ConversationService) GetOrCreatePrivate(ctx context.Context, requesterID, receiverID string) (*domain.Conversation, bool, error) {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return nil, false, domain.Errorf(domain.ErrInvalidInput, "receiverId is required")
	}
	if receiverID == requesterID {
		return nil, false, domain.Errorf(domain.ErrInvalidInput, "cannot start a conversation with yourself")
	}
	if _, err := s.users.GetByID(ctx, receiverID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, domain.Errorf(domain.ErrNotFound, "user not found")
		}
		return nil, false, fmt.Errorf("get receiver: %w", err)
	}

	conv, created, err := s.conversations.GetOrCreatePrivate(ctx, requesterID, receiverID)
	if err != nil {
		return nil, false, fmt.Errorf("get or create conversation: %w", err)
	}
	if created {
		s.log.Info("conversation created", "conversation_id", conv.ID, "by", requesterID)
	}
	return conv, created, nil
}

// CreateGroup creates a group with the creator as admin. The deduplicated
// member set, creator included, must reach MinGroupSize.
func (s *ConversationService) CreateGroup(ctx context.Context, creatorID string, in GroupCreateInput) (*domain.GroupChat, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Errorf(domain.ErrInvalidInput, "chatName is required")
	}

	members := lo.Uniq(lo.Compact(append([]string{creatorID}, lo.Map(in.MemberIDs, func(id string, _ int) string {
		return strings.TrimSpace(id)
	})...)))
	if len(members) < MinGroupSize {
		return nil, domain.Errorf(domain.ErrInvalidInput, "a group chat needs at least %d participants including you", MinGroupSize)
	}
	for _, id := range members {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.Errorf(domain.ErrNotFound, "user %s not found", id)
			}
			return nil, fmt.Errorf("get member: %w", err)
		}
	}

	g := &domain.GroupChat{
		Name:         name,
		AdminID:      creatorID,
		Participants: members,
	}
	if err := s.groups.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.log.Info("group created", "chat_id", g.ID, "members", len(members))
	return g, nil
}

// AddMember lets any current member add another user.
func (s *ConversationService) AddMember(ctx context.Context, groupID, requesterID, newUserID string) (*domain.GroupChat, error) {
	newUserID = strings.TrimSpace(newUserID)
	if newUserID == "" {
		return nil, domain.Errorf(domain.ErrInvalidInput, "userId is required")
	}
	g, err := s.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(g.Participants, requesterID) {
		return nil, domain.Errorf(domain.ErrForbidden, "you are not a member of this chat")
	}
	if slices.Contains(g.Participants, newUserID) {
		return nil, domain.Errorf(domain.ErrConflict, "user is already a member of this chat")
	}
	if _, err := s.users.GetByID(ctx, newUserID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Errorf(domain.ErrNotFound, "user not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := s.groups.AddMember(ctx, groupID, newUserID); err != nil {
		return nil, err
	}
	return s.getGroup(ctx, groupID)
}

// Participants returns the member ids of a room.
func (s *ConversationService) Participants(ctx context.Context, room domain.RoomRef) ([]string, error) {
	if err := room.Validate(); err != nil {
		return nil, err
	}
	switch room.Kind {
	case domain.RoomPrivate:
		c, err := s.conversations.GetByID(ctx, room.ID)
		if err != nil {
			return nil, notFoundAs(err, "conversation not found")
		}
		return c.Participants, nil
	default:
		g, err := s.getGroup(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		return g.Participants, nil
	}
}

// IsParticipant reports membership. A missing room yields false.
func (s *ConversationService) IsParticipant(ctx context.Context, room domain.RoomRef, userID string) (bool, error) {
	members, err := s.Participants(ctx, room)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return slices.Contains(members, userID), nil
}

// Authorize fails with NotFound for a missing room and Forbidden for a
// non-member.
func (s *ConversationService) Authorize(ctx context.Context, room domain.RoomRef, userID string) error {
	members, err := s.Participants(ctx, room)
	if err != nil {
		return err
	}
	if !slices.Contains(members, userID) {
		return domain.Errorf(domain.ErrForbidden, "you are not a participant of this chat")
	}
	return nil
}

// ResolveRoom finds which kind of room an id names.
func (s *ConversationService) ResolveRoom(ctx context.Context, id string) (domain.RoomRef, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RoomRef{}, domain.Errorf(domain.ErrInvalidInput, "room id is required")
	}
	_, err := s.conversations.GetByID(ctx, id)
	if err == nil {
		return domain.PrivateRoom(id), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.RoomRef{}, fmt.Errorf("get conversation: %w", err)
	}
	_, err = s.groups.GetByID(ctx, id)
	if err == nil {
		return domain.GroupRoom(id), nil
	}
	return domain.RoomRef{}, notFoundAs(err, "chat not found")
}

// DeleteRoom removes a room and its messages. Any participant may delete.
// Messages go first so an interrupted delete leaves orphaned messages rather
// than a room whose history vanished underneath it. The former participants
// are returned for notification.
func (s *ConversationService) DeleteRoom(ctx context.Context, room domain.RoomRef, requesterID string) ([]string, error) {
	members, err := s.Participants(ctx, room)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(members, requesterID) {
		return nil, domain.Errorf(domain.ErrForbidden, "you are not a participant of this chat")
	}

	n, err := s.messages.DeleteByRoom(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("delete room messages: %w", err)
	}

	switch room.Kind {
	case domain.RoomPrivate:
		err = s.conversations.Delete(ctx, room.ID)
	default:
		err = s.groups.Delete(ctx, room.ID)
	}
	if err != nil {
		return nil, notFoundAs(err, "chat not found")
	}
	s.log.Info("room deleted", "room", room.String(), "by", requesterID, "messages", n)
	return members, nil
}

func (s *ConversationService) ListGroups(ctx context.Context, userID string) ([]*domain.GroupChat, error) {
	return s.groups.ListForUser(ctx, userID)
}

// ListSummaries merges the user's conversations and groups, most recently
// updated first.
func (s *ConversationService) ListSummaries(ctx context.Context, userID string) ([]RoomSummary, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	groups, err := s.groups.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	summaries := make([]RoomSummary, 0, len(convs)+len(groups))
	for _, c := range convs {
		summaries = append(summaries, RoomSummary{
			ID:            c.ID,
			Participants:  c.Participants,
			LatestMessage: s.latest(ctx, c.LatestMessageID),
			CreatedAt:     c.CreatedAt,
			UpdatedAt:     c.UpdatedAt,
		})
	}
	for _, g := range groups {
		summaries = append(summaries, RoomSummary{
			ID:            g.ID,
			IsGroup:       true,
			Name:          g.Name,
			Participants:  g.Participants,
			Admin:         g.AdminID,
			LatestMessage: s.latest(ctx, g.LatestMessageID),
			CreatedAt:     g.CreatedAt,
			UpdatedAt:     g.UpdatedAt,
		})
	}

	slices.SortStableFunc(summaries, func(a, b RoomSummary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return summaries, nil
}

func (s *ConversationService) latest(ctx context.Context, id *string) *MessageView {
	if id == nil {
		return nil
	}
	m, err := s.messages.GetByID(ctx, *id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("load latest message", "message_id", *id, "error", err)
		}
		return nil
	}
	return s.viewer.view(m)
}

func (s *ConversationService) getGroup(ctx context.Context, id string) (*domain.GroupChat, error) {
	g, err := s.groups.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "chat not found")
	}
	return g, nil
}

// notFoundAs gives ErrNotFound a user-facing message and passes other errors on.
func notFoundAs(err error, msg string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Errorf(domain.ErrNotFound, "%s", msg)
	}
	return err
}
