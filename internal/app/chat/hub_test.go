package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chatsync/internal/app/db"
	"chatsync/internal/app/model"
	"chatsync/internal/app/realtime"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
)

const testSecret = "hub-test-secret"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type hubFixture struct {
	hub   *Hub
	url   string
	alice model.User
	bob   model.User
	carol model.User
	chat  model.Chat
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	ctx := context.Background()

	store := db.NewMemoryStore()
	alice, err := store.CreateUser(ctx, "Alice", "alice@example.com", "x")
	require.NoError(t, err)
	bob, err := store.CreateUser(ctx, "Bob", "bob@example.com", "x")
	require.NoError(t, err)
	carol, err := store.CreateUser(ctx, "Carol", "carol@example.com", "x")
	require.NoError(t, err)
	chat, err := store.DirectChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	hub := NewHub(testSecret, store)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		if !hub.Register(client) {
			conn.Close()
			return
		}
		go client.WritePump()
		client.ReadPump()
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)

	return &hubFixture{
		hub:   hub,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		alice: alice,
		bob:   bob,
		carol: carol,
		chat:  chat,
	}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// identified dials and completes setup as user.
func (f *hubFixture) identified(t *testing.T, user model.User) *websocket.Conn {
	t.Helper()
	token, err := jwt.GenerateToken(&jwt.Payload{UserID: user.ID, Name: user.Name}, testSecret, time.Hour)
	require.NoError(t, err)

	ws := f.dial(t)
	send(t, ws, realtime.EventSetup, realtime.SetupPayload{Token: token})
	require.Equal(t, realtime.EventConnected, receive(t, ws).Event)
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := realtime.EncodeFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

func receive(t *testing.T, ws *websocket.Conn) realtime.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var frame realtime.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func receiveError(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	frame := receive(t, ws)
	require.Equal(t, realtime.EventError, frame.Event)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	return payload.Code
}

func TestFrameBeforeSetupIsUnauthorized(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	send(t, ws, realtime.EventJoinChat, realtime.ScopePayload{ChatID: f.chat.ID})
	require.Equal(t, errs.ErrUnauthorized, receiveError(t, ws))

	send(t, ws, realtime.EventSetup, realtime.SetupPayload{Token: "not-a-token"})
	require.Equal(t, errs.ErrUnauthorized, receiveError(t, ws))
}

func TestJoinByNonMemberIsRejected(t *testing.T) {
	f := newHubFixture(t)
	ws := f.identified(t, f.carol)

	send(t, ws, realtime.EventJoinChat, realtime.ScopePayload{ChatID: f.chat.ID})
	require.Equal(t, errs.ErrNotChatMember, receiveError(t, ws))

	send(t, ws, realtime.EventJoinChat, realtime.ScopePayload{ChatID: "missing"})
	require.Equal(t, errs.ErrChatNotFound, receiveError(t, ws))
}

func TestNewMessageWithForeignSenderIsRejected(t *testing.T) {
	f := newHubFixture(t)
	alice := f.identified(t, f.alice)
	bob := f.identified(t, f.bob)

	forged := model.Message{
		ID:        "m1",
		ChatID:    f.chat.ID,
		Sender:    f.bob,
		Content:   "not from bob",
		CreatedAt: time.Now().UTC(),
	}
	send(t, alice, realtime.EventNewMessage, forged)
	require.Equal(t, errs.ErrInvalidParams, receiveError(t, alice))

	genuine := forged
	genuine.ID = "m2"
	genuine.Sender = f.alice
	genuine.Content = "from alice"
	send(t, alice, realtime.EventNewMessage, genuine)

	frame := receive(t, bob)
	require.Equal(t, realtime.EventMessageReceived, frame.Event)
	got, err := model.ParseMessage(frame.Data)
	require.NoError(t, err)
	require.Equal(t, "m2", got.ID)
}

func TestTypingFromUnjoinedClientIsDropped(t *testing.T) {
	f := newHubFixture(t)
	alice := f.identified(t, f.alice)
	bob := f.identified(t, f.bob)

	send(t, bob, realtime.EventJoinChat, realtime.ScopePayload{ChatID: f.chat.ID})
	// The error reply is routed after the join, so reading it means bob is joined.
	send(t, bob, realtime.EventTyping, realtime.ScopePayload{})
	require.Equal(t, errs.ErrInvalidParams, receiveError(t, bob))

	send(t, alice, realtime.EventTyping, realtime.ScopePayload{ChatID: f.chat.ID})
	send(t, alice, realtime.EventTyping, realtime.ScopePayload{})
	require.Equal(t, errs.ErrInvalidParams, receiveError(t, alice))

	send(t, alice, realtime.EventJoinChat, realtime.ScopePayload{ChatID: f.chat.ID})
	send(t, alice, realtime.EventStopTyping, realtime.ScopePayload{ChatID: f.chat.ID})

	frame := receive(t, bob)
	require.Equal(t, realtime.EventStopTyping, frame.Event)
	chatID, err := realtime.DecodeScope(frame.Data)
	require.NoError(t, err)
	require.Equal(t, f.chat.ID, chatID)
}

func TestStatsCountsIdentifiedUsers(t *testing.T) {
	f := newHubFixture(t)
	f.identified(t, f.alice)
	f.identified(t, f.alice)
	f.dial(t)

	require.Eventually(t, func() bool {
		st := f.hub.Stats()
		return st.Clients == 3 && st.Users == 1
	}, 2*time.Second, 5*time.Millisecond)
}
