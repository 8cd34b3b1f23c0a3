package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbackend/internal/domain"
	"chatbackend/internal/presence"
	"chatbackend/internal/security"
	"chatbackend/internal/service"
	"chatbackend/internal/store/sqlite"
	"chatbackend/internal/ws"
)

type harness struct {
	server *httptest.Server
	auth   *service.AuthService
	rooms  *service.ConversationService
	convs  *sqlite.ConversationRepo
	hub    *ws.Hub
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	enc, err := security.NewEncryptor([]byte("realtime-test-key"), nil)
	require.NoError(t, err)

	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	groups := sqlite.NewGroupRepo(db)
	messages := sqlite.NewMessageRepo(db)

	auth := service.NewAuthService(users, security.NewTokenService("secret", time.Hour), security.NewPasswordHasher(4))
	rooms := service.NewConversationService(convs, groups, messages, users, enc, log)
	msgs := service.NewMessageService(messages, rooms, enc, log)

	hub := ws.NewHub(log)
	registry := presence.NewMemory(0, presence.WithListener(hub), presence.WithLogger(log))
	relay := ws.NewRelay(hub, msgs, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.MakeHandler(ws.HandlerConfig{
		Auth:       auth,
		Rooms:      rooms,
		Relay:      relay,
		Hub:        hub,
		Presence:   registry,
		Log:        log,
		SendBuffer: 64,
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &harness{server: srv, auth: auth, rooms: rooms, convs: convs, hub: hub}
}

func (h *harness) register(t *testing.T, email string) *service.TokenResponse {
	t.Helper()
	resp, err := h.auth.Register(context.Background(), service.RegisterInput{
		FirstName: "Test", LastName: "User", Email: email, Password: "Password1!",
	})
	require.NoError(t, err)
	return resp
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": event, "data": data}))
}

// readUntil returns the first frame of the wanted type and every frame
// received before it.
func readUntil(t *testing.T, conn *websocket.Conn, want string) (frame, []frame) {
	t.Helper()
	var skipped []frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", want)
		if f.Type == want {
			return f, skipped
		}
		skipped = append(skipped, f)
	}
}

func types(frames []frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func TestHandshakeRequiresValidToken(t *testing.T) {
	h := newHarness(t)

	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-token")
	_, resp, err = websocket.DefaultDialer.Dial(h.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, h.hub.SessionCount())
}

func TestHandshakeTokenLocations(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice@example.com")

	dialer := websocket.Dialer{Subprotocols: []string{"bearer", alice.AccessToken}}
	conn, resp, err := dialer.Dial(h.wsURL(), nil)
	require.NoError(t, err)
	assert.Equal(t, "bearer", resp.Header.Get("Sec-WebSocket-Protocol"))
	conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(h.wsURL()+"?token="+alice.AccessToken, nil)
	require.NoError(t, err)
	conn.Close()
}

func TestOnlineSnapshotAndPresenceBroadcast(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice@example.com")
	bob := h.register(t, "bob@example.com")

	a := h.dial(t, alice.AccessToken)
	snap, _ := readUntil(t, a, ws.EventOnlineUsers)
	var online []string
	require.NoError(t, json.Unmarshal(snap.Data, &online))
	assert.Equal(t, []string{alice.User.ID}, online)

	b := h.dial(t, bob.AccessToken)
	snap, _ = readUntil(t, b, ws.EventOnlineUsers)
	require.NoError(t, json.Unmarshal(snap.Data, &online))
	assert.ElementsMatch(t, []string{alice.User.ID, bob.User.ID}, online)

	for {
		f, _ := readUntil(t, a, ws.EventUserOnline)
		var p ws.UserPayload
		require.NoError(t, json.Unmarshal(f.Data, &p))
		if p.UserID == bob.User.ID {
			break
		}
	}

	require.NoError(t, b.Close())
	f, _ := readUntil(t, a, ws.EventUserOffline)
	var p ws.UserPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, bob.User.ID, p.UserID)
}

func TestSendMessageFanOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice@example.com")
	bob := h.register(t, "bob@example.com")
	conv, _, err := h.rooms.GetOrCreatePrivate(ctx, alice.User.ID, bob.User.ID)
	require.NoError(t, err)

	a := h.dial(t, alice.AccessToken)
	b := h.dial(t, bob.AccessToken)
	send(t, a, ws.EventJoinChat, conv.ID)
	readUntil(t, a, ws.EventJoinedChat)
	send(t, b, ws.EventJoinChat, map[string]string{"roomId": conv.ID})
	readUntil(t, b, ws.EventJoinedChat)

	send(t, a, ws.EventSendMessage, map[string]any{"conversationId": conv.ID, "content": "hello bob"})

	sent, before := readUntil(t, a, ws.EventMessageSent)
	assert.NotContains(t, types(before), ws.EventReceiveMessage)
	var mine service.MessageView
	require.NoError(t, json.Unmarshal(sent.Data, &mine))
	assert.Equal(t, "hello bob", mine.Content)
	assert.Equal(t, alice.User.ID, mine.Sender)

	got, _ := readUntil(t, b, ws.EventReceiveMessage)
	var theirs service.MessageView
	require.NoError(t, json.Unmarshal(got.Data, &theirs))
	assert.Equal(t, mine.ID, theirs.ID)
	assert.Equal(t, "hello bob", theirs.Content)
	require.NotNil(t, theirs.ConversationID)
	assert.Equal(t, conv.ID, *theirs.ConversationID)

	stored, err := h.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LatestMessageID)
	assert.Equal(t, mine.ID, *stored.LatestMessageID)

	send(t, b, ws.EventTyping, ws.TypingPayload{RoomID: conv.ID, IsTyping: true})
	typing, _ := readUntil(t, a, ws.EventUserTyping)
	assert.JSONEq(t, `{"userId":"`+bob.User.ID+`","roomId":"`+conv.ID+`","isTyping":true}`, string(typing.Data))

	send(t, b, ws.EventMarkRead, conv.ID)
	read, _ := readUntil(t, a, ws.EventMessagesRead)
	assert.JSONEq(t, `{"roomId":"`+conv.ID+`","userId":"`+bob.User.ID+`"}`, string(read.Data))
}

func TestNonParticipantIsIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice@example.com")
	bob := h.register(t, "bob@example.com")
	carol := h.register(t, "carol@example.com")
	conv, _, err := h.rooms.GetOrCreatePrivate(ctx, alice.User.ID, bob.User.ID)
	require.NoError(t, err)

	a := h.dial(t, alice.AccessToken)
	c := h.dial(t, carol.AccessToken)

	send(t, c, ws.EventJoinChat, conv.ID)
	errFrame, before := readUntil(t, c, ws.EventError)
	assert.NotContains(t, types(before), ws.EventJoinedChat)
	assert.Contains(t, string(errFrame.Data), "not a participant")

	send(t, c, ws.EventSendMessage, map[string]any{"conversationId": conv.ID, "message": "let me in"})
	readUntil(t, c, ws.EventError)

	send(t, a, ws.EventJoinChat, conv.ID)
	readUntil(t, a, ws.EventJoinedChat)
	send(t, a, ws.EventSendMessage, map[string]any{"conversationId": conv.ID, "content": "private"})
	readUntil(t, a, ws.EventMessageSent)

	send(t, c, ws.EventGetOnlineUsers, nil)
	_, before = readUntil(t, c, ws.EventOnlineUsers)
	assert.NotContains(t, types(before), ws.EventReceiveMessage)

	views, err := h.rooms.ListSummaries(ctx, alice.User.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].LatestMessage)
	assert.Equal(t, "private", views[0].LatestMessage.Content)
}

func TestMalformedAndUnknownEvents(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice@example.com")
	a := h.dial(t, alice.AccessToken)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f, _ := readUntil(t, a, ws.EventError)
	assert.Contains(t, string(f.Data), "malformed")

	send(t, a, "selfDestruct", nil)
	f, _ = readUntil(t, a, ws.EventError)
	assert.Contains(t, string(f.Data), "unknown event")

	send(t, a, ws.EventJoinChat, "missing-room")
	f, _ = readUntil(t, a, ws.EventError)
	var p ws.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.NotEmpty(t, p.Error)
	assert.NotEqual(t, domain.ErrInternal.Error(), p.Error)
}

func TestRevokedCredentialRejectsEventsOnOpenSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice@example.com")
	bob := h.register(t, "bob@example.com")
	conv, _, err := h.rooms.GetOrCreatePrivate(ctx, alice.User.ID, bob.User.ID)
	require.NoError(t, err)

	a := h.dial(t, alice.AccessToken)
	readUntil(t, a, ws.EventOnlineUsers)
	send(t, a, ws.EventJoinChat, conv.ID)
	readUntil(t, a, ws.EventJoinedChat)

	require.NoError(t, h.auth.LogoutAll(ctx, alice.User.ID))

	send(t, a, ws.EventSendMessage, map[string]any{"conversationId": conv.ID, "content": "after revoke"})
	f, before := readUntil(t, a, ws.EventError)
	assert.NotContains(t, types(before), ws.EventMessageSent)
	var p ws.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, "token has been revoked", p.Error)

	stored, err := h.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LatestMessageID)

	// The connection is still open and keeps rejecting.
	send(t, a, ws.EventGetOnlineUsers, nil)
	f, before = readUntil(t, a, ws.EventError)
	assert.NotContains(t, types(before), ws.EventOnlineUsers)
	assert.Contains(t, string(f.Data), "revoked")
}

func TestDeletedAccountRejectsEventsOnOpenSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice@example.com")

	a := h.dial(t, alice.AccessToken)
	readUntil(t, a, ws.EventOnlineUsers)

	require.NoError(t, h.auth.DeleteAccount(ctx, alice.User.ID))

	send(t, a, ws.EventGetOnlineUsers, nil)
	f, before := readUntil(t, a, ws.EventError)
	assert.NotContains(t, types(before), ws.EventOnlineUsers)
	assert.Contains(t, string(f.Data), "no longer exists")
}
