package ws

import (
	"context"
	"encoding/json"
	"strings"

	"chatbackend/internal/domain"
	"chatbackend/internal/presence"
	"chatbackend/internal/service"
)

type dispatcher struct {
	auth     Authenticator
	hub      *Hub
	relay    *Relay
	rooms    Rooms
	presence presence.Registry
}

// dispatch handles one inbound event. Failures are reported to the
// originating session only.
func (d *dispatcher) dispatch(ctx context.Context, s *Session, f Frame) {
	// A credential version bump or account deletion must reach sessions that
	// are already open. The connection stays up; the event is rejected.
	if _, err := d.auth.Authenticate(ctx, s.token); err != nil {
		s.SendError(err)
		return
	}

	var err error
	switch f.Type {
	case EventJoinChat:
		err = d.joinChat(ctx, s, f.Data)
	case EventLeaveChat:
		err = d.leaveChat(s, f.Data)
	case EventSendMessage:
		err = d.sendMessage(ctx, s, f.Data)
	case EventTyping:
		err = d.typing(ctx, s, f.Data)
	case EventGetOnlineUsers:
		err = s.SendEvent(EventOnlineUsers, d.presence.ListOnline())
	case EventMarkRead:
		err = d.markRead(ctx, s, f.Data)
	default:
		s.log.Debug("ws: unknown event", "type", f.Type)
		err = domain.Errorf(domain.ErrInvalidInput, "unknown event %q", f.Type)
	}
	if err != nil {
		s.SendError(err)
	}
}

// authorizedRoom resolves a room id and checks that the session's user belongs
// to it.
func (d *dispatcher) authorizedRoom(ctx context.Context, s *Session, roomID string) (domain.RoomRef, error) {
	if roomID == "" {
		return domain.RoomRef{}, domain.Errorf(domain.ErrInvalidInput, "room id is required")
	}
	room, err := d.rooms.ResolveRoom(ctx, roomID)
	if err != nil {
		return domain.RoomRef{}, err
	}
	ok, err := d.rooms.IsParticipant(ctx, room, s.User.ID)
	if err != nil {
		return domain.RoomRef{}, err
	}
	if !ok {
		return domain.RoomRef{}, domain.Errorf(domain.ErrForbidden, "you are not a participant of this chat")
	}
	return room, nil
}

func (d *dispatcher) joinChat(ctx context.Context, s *Session, data json.RawMessage) error {
	roomID, err := decodeRoomID(data)
	if err != nil {
		return err
	}
	room, err := d.authorizedRoom(ctx, s, roomID)
	if err != nil {
		return err
	}
	if !d.hub.Subscribe(room.ID, s) {
		return domain.Errorf(domain.ErrInvalidInput, "session is not active")
	}
	return s.SendEvent(EventJoinedChat, RoomPayload{RoomID: room.ID})
}

func (d *dispatcher) leaveChat(s *Session, data json.RawMessage) error {
	roomID, err := decodeRoomID(data)
	if err != nil {
		return err
	}
	if roomID == "" {
		return domain.Errorf(domain.ErrInvalidInput, "room id is required")
	}
	d.hub.Unsubscribe(roomID, s)
	return s.SendEvent(EventLeftChat, RoomPayload{RoomID: roomID})
}

func (d *dispatcher) sendMessage(ctx context.Context, s *Session, data json.RawMessage) error {
	var p SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Errorf(domain.ErrInvalidInput, "malformed message payload")
	}
	view, err := d.relay.SendMessage(ctx, s.User.ID, service.SendInput{
		ConversationID: strings.TrimSpace(p.ConversationID),
		ChatID:         strings.TrimSpace(p.ChatID),
		Content:        p.text(),
		Type:           p.Type,
		Attachments:    p.Attachments,
	}, s.ID)
	if err != nil {
		return err
	}
	return s.SendEvent(EventMessageSent, view)
}

func (d *dispatcher) typing(ctx context.Context, s *Session, data json.RawMessage) error {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Errorf(domain.ErrInvalidInput, "malformed typing payload")
	}
	roomID := strings.TrimSpace(p.RoomID)
	if !d.hub.IsSubscribed(roomID, s.ID) {
		if _, err := d.authorizedRoom(ctx, s, roomID); err != nil {
			return err
		}
	}
	d.hub.BroadcastToRoom(roomID, EventUserTyping, UserTypingPayload{
		UserID:   s.User.ID,
		RoomID:   roomID,
		IsTyping: p.IsTyping,
	}, s.ID)
	return nil
}

func (d *dispatcher) markRead(ctx context.Context, s *Session, data json.RawMessage) error {
	roomID, err := decodeRoomID(data)
	if err != nil {
		return err
	}
	if roomID == "" {
		return domain.Errorf(domain.ErrInvalidInput, "room id is required")
	}
	room, err := d.rooms.ResolveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	_, err = d.relay.MarkRead(ctx, s.User.ID, room)
	return err
}
