package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chatbackend/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var (
	errSessionClosed = errors.New("session closed")
	errSlowConsumer  = errors.New("session send buffer full")
)

// State is the lifecycle stage of a realtime session. Room membership is
// tracked by the Hub, not here.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one live websocket connection of a user. Outbound frames go
// through a bounded queue drained by a single writer goroutine; a client that
// cannot keep up is disconnected.
type Session struct {
	ID   string
	User *domain.User

	// token is the bearer credential presented at handshake. It is checked
	// again before every inbound event.
	token   string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	state   atomic.Int32
	limiter *rate.Limiter
	log     *slog.Logger

	closeCode   int
	closeReason string
}

func newSession(user *domain.User, conn *websocket.Conn, buffer int, limiter *rate.Limiter, log *slog.Logger) *Session {
	if buffer <= 0 {
		buffer = 128
	}
	id := uuid.NewString()
	s := &Session{
		ID:      id,
		User:    user,
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		limiter: limiter,
		log:     log.With("session_id", id, "user_id", user.ID),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Send enqueues an encoded frame without blocking.
func (s *Session) Send(payload []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	default:
		s.log.Warn("ws: send buffer full, closing session")
		s.Close(websocket.ClosePolicyViolation, "send buffer full")
		return errSlowConsumer
	}
}

// SendEvent encodes and enqueues a single event.
func (s *Session) SendEvent(event string, payload any) error {
	b, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	return s.Send(b)
}

// SendError reports err to this session only. Internal failures are logged
// and sent as a generic message.
func (s *Session) SendError(err error) {
	if domain.KindOf(err) == domain.ErrInternal {
		s.log.Error("ws: operation failed", "error", err)
	} else {
		s.log.Debug("ws: rejected", "error", err)
	}
	_ = s.SendEvent(EventError, ErrorPayload{Error: domain.PublicMessage(err)})
}

// Close stops the session. The writer sends the close frame and releases the
// socket, so Close never blocks on the network.
func (s *Session) Close(code int, reason string) {
	s.once.Do(func() {
		s.closeCode, s.closeReason = code, reason
		s.setState(StateClosed)
		close(s.done)
	})
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(s.closeCode, s.closeReason), time.Now().Add(writeWait))
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (s *Session) write(messageType int, payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, payload)
}

// readLoop feeds inbound frames to handle until the peer goes away.
func (s *Session) readLoop(handle func(Frame)) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Debug("ws: read failed", "error", err)
			}
			return
		}
		if s.limiter != nil && !s.limiter.Allow() {
			s.SendError(domain.Errorf(domain.ErrInvalidInput, "too many events, slow down"))
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
			s.SendError(domain.Errorf(domain.ErrInvalidInput, "malformed event"))
			continue
		}
		handle(f)
	}
}
