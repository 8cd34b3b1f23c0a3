package ws

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks live sessions, the users they belong to and the rooms they have
// joined, and fans encoded events out to them. Every broadcast encodes its
// payload once and enqueues it without blocking.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	users        map[string]map[string]*Session
	rooms        map[string]map[string]*Session
	sessionRooms map[string]map[string]struct{}
	log          *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		sessions:     make(map[string]*Session),
		users:        make(map[string]map[string]*Session),
		rooms:        make(map[string]map[string]*Session),
		sessionRooms: make(map[string]map[string]struct{}),
		log:          log,
	}
}

// Attach registers a session for user fan-out.
func (h *Hub) Attach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s.ID] = s
	if h.users[s.User.ID] == nil {
		h.users[s.User.ID] = make(map[string]*Session)
	}
	h.users[s.User.ID][s.ID] = s
}

// Detach drops the session and all of its room subscriptions.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(s)
}

func (h *Hub) detachLocked(s *Session) {
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	if set := h.users[s.User.ID]; set != nil {
		delete(set, s.ID)
		if len(set) == 0 {
			delete(h.users, s.User.ID)
		}
	}
	for roomID := range h.sessionRooms[s.ID] {
		h.leaveLocked(roomID, s.ID)
	}
	delete(h.sessionRooms, s.ID)
}

// Subscribe adds the session to a room. It reports false for a session that
// is not attached.
func (h *Hub) Subscribe(roomID string, s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID]; !ok {
		return false
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Session)
	}
	h.rooms[roomID][s.ID] = s
	if h.sessionRooms[s.ID] == nil {
		h.sessionRooms[s.ID] = make(map[string]struct{})
	}
	h.sessionRooms[s.ID][roomID] = struct{}{}
	return true
}

func (h *Hub) Unsubscribe(roomID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(roomID, s.ID)
	if joined := h.sessionRooms[s.ID]; joined != nil {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(h.sessionRooms, s.ID)
		}
	}
}

func (h *Hub) leaveLocked(roomID, sessionID string) {
	members := h.rooms[roomID]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) IsSubscribed(roomID, sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][sessionID]
	return ok
}

func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// BroadcastToRoom delivers to every subscriber of roomID except the session
// named by exclude. It returns the number of sessions the frame was queued for.
func (h *Hub) BroadcastToRoom(roomID, event string, payload any, exclude string) int {
	frame, ok := h.encode(event, payload)
	if !ok {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for id, s := range h.rooms[roomID] {
		if id == exclude {
			continue
		}
		if s.Send(frame) == nil {
			sent++
		}
	}
	return sent
}

// BroadcastToUser delivers to every live session of userID.
func (h *Hub) BroadcastToUser(userID, event string, payload any) int {
	frame, ok := h.encode(event, payload)
	if !ok {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, s := range h.users[userID] {
		if s.Send(frame) == nil {
			sent++
		}
	}
	return sent
}

// BroadcastAll delivers to every live session.
func (h *Hub) BroadcastAll(event string, payload any) int {
	frame, ok := h.encode(event, payload)
	if !ok {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, s := range h.sessions {
		if s.Send(frame) == nil {
			sent++
		}
	}
	return sent
}

// CloseRoom drops every subscription to roomID.
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID := range h.rooms[roomID] {
		if joined := h.sessionRooms[sessionID]; joined != nil {
			delete(joined, roomID)
			if len(joined) == 0 {
				delete(h.sessionRooms, sessionID)
			}
		}
	}
	delete(h.rooms, roomID)
}

// PresenceChanged broadcasts online and offline transitions to everyone.
func (h *Hub) PresenceChanged(userID string, online bool) {
	event := EventUserOffline
	if online {
		event = EventUserOnline
	}
	h.BroadcastAll(event, UserPayload{UserID: userID})
}

// DisconnectUser closes every live session of userID.
func (h *Hub) DisconnectUser(userID string, code int, reason string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions := h.users[userID]
	n := len(sessions)
	for _, s := range sessions {
		s.Close(code, reason)
		h.detachLocked(s)
	}
	return n
}

// Shutdown closes every session with a going-away frame.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.sessions {
		s.Close(websocket.CloseGoingAway, "server shutting down")
		h.detachLocked(s)
	}
}

func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error("ws: encode event", "event", event, "error", err)
		return nil, false
	}
	return frame, true
}
