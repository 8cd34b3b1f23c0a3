package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"chatbackend/internal/domain"
	"chatbackend/internal/service"
)

// roomLocks hands out one mutex per room id and forgets it once nobody holds
// or waits for it.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

func (r *roomLocks) lock(roomID string) (unlock func()) {
	r.mu.Lock()
	l := r.locks[roomID]
	if l == nil {
		l = &roomLock{}
		r.locks[roomID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, roomID)
		}
		r.mu.Unlock()
	}
}

// Relay couples persistence with delivery. Messages for the same room are
// stored and fanned out under one lock, so every subscriber observes them in
// commit order.
type Relay struct {
	hub      *Hub
	messages *service.MessageService
	locks    *roomLocks
	log      *slog.Logger
}

func NewRelay(hub *Hub, messages *service.MessageService, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{hub: hub, messages: messages, locks: newRoomLocks(), log: log}
}

// SendMessage persists a message and pushes receiveMessage to the room's
// subscribers other than originSessionID.
func (r *Relay) SendMessage(ctx context.Context, senderID string, in service.SendInput, originSessionID string) (*service.MessageView, error) {
	room, err := domain.NewRoomRef(in.ConversationID, in.ChatID)
	if err != nil {
		return nil, err
	}

	unlock := r.locks.lock(room.ID)
	defer unlock()

	view, err := r.messages.Send(ctx, senderID, in)
	if err != nil {
		return nil, err
	}
	n := r.hub.BroadcastToRoom(room.ID, EventReceiveMessage, view, originSessionID)
	r.log.Debug("ws: message relayed", "room", room.String(), "message_id", view.ID, "recipients", n)
	return view, nil
}

func (r *Relay) EditMessage(ctx context.Context, requesterID, messageID, content string) (*service.MessageView, error) {
	view, err := r.messages.Edit(ctx, messageID, requesterID, content)
	if err != nil {
		return nil, err
	}
	r.hub.BroadcastToRoom(view.Room.ID, EventMessageUpdated, view, "")
	return view, nil
}

func (r *Relay) DeleteMessage(ctx context.Context, requester *domain.User, messageID string) (domain.RoomRef, error) {
	room, err := r.messages.Remove(ctx, messageID, requester)
	if err != nil {
		return domain.RoomRef{}, err
	}
	r.hub.BroadcastToRoom(room.ID, EventMessageDeleted, MessageDeletedPayload{MessageID: messageID, RoomID: room.ID}, "")
	return room, nil
}

func (r *Relay) MarkRead(ctx context.Context, userID string, room domain.RoomRef) (int64, error) {
	n, err := r.messages.MarkRead(ctx, room, userID)
	if err != nil {
		return 0, err
	}
	r.hub.BroadcastToRoom(room.ID, EventMessagesRead, MessagesReadPayload{RoomID: room.ID, UserID: userID}, "")
	return n, nil
}

// ConversationCreated tells the other participant about a new private room.
func (r *Relay) ConversationCreated(conv *domain.Conversation, creatorID string) {
	for _, id := range conv.Participants {
		if id != creatorID {
			r.hub.BroadcastToUser(id, EventConversationCreated, conv)
		}
	}
}

// GroupCreated tells every member about a new group.
func (r *Relay) GroupCreated(g *domain.GroupChat) {
	for _, id := range g.Participants {
		r.hub.BroadcastToUser(id, EventChatCreated, g)
	}
}

// MemberAdded notifies the group's subscribers and hands the group to the new
// member.
func (r *Relay) MemberAdded(g *domain.GroupChat, userID string) {
	r.hub.BroadcastToRoom(g.ID, EventMemberAdded, MemberAddedPayload{ChatID: g.ID, UserID: userID}, "")
	r.hub.BroadcastToUser(userID, EventChatCreated, g)
}

// AccountDeleted closes the realtime sessions of a removed user.
func (r *Relay) AccountDeleted(userID string) {
	if n := r.hub.DisconnectUser(userID, websocket.CloseNormalClosure, "account deleted"); n > 0 {
		r.log.Info("ws: closed sessions of deleted account", "user_id", userID, "sessions", n)
	}
}

// RoomDeleted notifies the former members and drops every subscription.
func (r *Relay) RoomDeleted(room domain.RoomRef, members []string) {
	for _, id := range members {
		r.hub.BroadcastToUser(id, EventRoomDeleted, RoomPayload{RoomID: room.ID})
	}
	r.hub.CloseRoom(room.ID)
}
