package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chatbackend/internal/domain"
	"chatbackend/internal/presence"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

// Authenticator resolves a bearer token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Rooms is the directory lookup the realtime layer needs.
type Rooms interface {
	ResolveRoom(ctx context.Context, id string) (domain.RoomRef, error)
	IsParticipant(ctx context.Context, room domain.RoomRef, userID string) (bool, error)
}

type HandlerConfig struct {
	Auth     Authenticator
	Rooms    Rooms
	Relay    *Relay
	Hub      *Hub
	Presence presence.Registry
	Log      *slog.Logger

	AllowedOrigins  []string
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests whose origin is allow-listed.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, wildcard := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || wildcard {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// extractTokenFromWSRequest looks at the Authorization header, then the
// "bearer, <token>" subprotocol pair, then the token query parameter.
func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
	}

	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns the handler for the realtime endpoint. The connection is
// authenticated before the upgrade; a rejected handshake never becomes a
// session.
func MakeHandler(cfg HandlerConfig) http.HandlerFunc {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	checkOrigin := makeCheckOrigin(cfg.AllowedOrigins)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
		Subprotocols:    []string{"bearer"},
	}
	d := &dispatcher{
		auth:     cfg.Auth,
		hub:      cfg.Hub,
		relay:    cfg.Relay,
		rooms:    cfg.Rooms,
		presence: cfg.Presence,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		token, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := cfg.Auth.Authenticate(r.Context(), token)
		if err != nil {
			if domain.KindOf(err) == domain.ErrInternal {
				log.Error("ws: authenticate", "error", err)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			http.Error(w, domain.PublicMessage(err), http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("ws: upgrade failed", "user_id", user.ID, "error", err)
			return
		}

		limit := rate.Inf
		if cfg.EventsPerSecond > 0 {
			limit = rate.Limit(cfg.EventsPerSecond)
		}
		burst := cfg.EventBurst
		if burst <= 0 {
			burst = 1
		}
		s := newSession(user, conn, cfg.SendBuffer, rate.NewLimiter(limit, burst), log)
		s.token = token

		ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
		defer cancel()

		go s.writeLoop()
		cfg.Hub.Attach(s)
		s.setState(StateAuthenticated)
		cfg.Presence.AddSession(user.ID, s.ID)
		_ = s.SendEvent(EventOnlineUsers, cfg.Presence.ListOnline())
		s.log.Info("ws: session opened")

		s.readLoop(func(f Frame) { d.dispatch(ctx, s, f) })

		s.Close(websocket.CloseNormalClosure, "")
		cfg.Hub.Detach(s)
		cfg.Presence.RemoveSession(user.ID, s.ID)
		s.log.Info("ws: session closed")
	}
}
