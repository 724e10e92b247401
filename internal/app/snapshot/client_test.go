package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/internal/pkg/errs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL + "/api/"})
	require.NoError(t, err)
	return client, &calls
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestFetchChatListSendsBearerAndParses(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chats", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"_id":"a","users":[]},{"_id":"b","isGroupChat":true,"chatName":"G","users":[]}]`))
	})

	chats, err := client.FetchChatList(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	require.Equal(t, "a", chats[0].ID)
	require.True(t, chats[1].IsGroup)
}

func TestFetchMessageHistoryEscapesChatID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/messages/a%2Fb", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`[{"_id":"m1","chat":"a/b","sender":{"_id":"u"},"content":"x","createdAt":"2024-01-01T00:00:00Z"}]`))
	})

	messages, err := client.FetchMessageHistory(context.Background(), "a/b", "tok")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "a/b", messages[0].ChatID)
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   errs.Kind
	}{
		{http.StatusUnauthorized, errs.KindAuth},
		{http.StatusForbidden, errs.KindAuth},
		{http.StatusBadRequest, errs.KindValidation},
		{http.StatusNotFound, errs.KindValidation},
		{http.StatusTooManyRequests, errs.KindNetwork},
		{http.StatusInternalServerError, errs.KindNetwork},
		{http.StatusBadGateway, errs.KindNetwork},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(map[string]any{"code": 1, "message": "nope"})
			})

			_, err := client.FetchChatList(context.Background(), "tok")
			require.Error(t, err)
			require.Equal(t, tc.kind, errs.KindOf(err))
			require.Contains(t, err.Error(), "nope")

			var syncErr *errs.SyncError
			require.ErrorAs(t, err, &syncErr)
			require.Equal(t, tc.status, syncErr.Status)
		})
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client, err := New(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.FetchChatList(context.Background(), "tok")
	require.ErrorIs(t, err, errs.NetworkError)
}

func TestMissingTokenIsAuthErrorWithoutNetwork(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.FetchChatList(context.Background(), "")
	require.ErrorIs(t, err, errs.AuthError)
	require.Zero(t, calls.Load())
}

func TestMalformedPayloadIsValidationError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	})

	_, err := client.FetchChatList(context.Background(), "tok")
	require.ErrorIs(t, err, errs.ValidationError)
}

func TestPostMessage(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/messages", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]string{"chatId": "c1", "content": "hi"}, body)
		_, _ = w.Write([]byte(`{"_id":"srv-1","chat":{"_id":"c1"},"sender":{"_id":"me"},"content":"hi","createdAt":"2024-01-01T00:00:00Z"}`))
	})

	msg, err := client.PostMessage(context.Background(), "c1", "hi", "tok")
	require.NoError(t, err)
	require.Equal(t, "srv-1", msg.ID)
	require.EqualValues(t, 1, calls.Load())

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err = client.PostMessage(context.Background(), "c1", content, "tok")
		require.ErrorIs(t, err, errs.ValidationError)
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestCreateGroupChatValidatesLocally(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chats/group", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Team", body["name"])
		require.JSONEq(t, `["u2","u3"]`, body["users"])
		_, _ = w.Write([]byte(`{"_id":"g1","isGroupChat":true,"chatName":"Team","users":[{"_id":"u1"},{"_id":"u2"},{"_id":"u3"}]}`))
	})
	ctx := context.Background()

	_, err := client.CreateGroupChat(ctx, " ", []string{"u2", "u3"}, "tok")
	require.ErrorIs(t, err, errs.ValidationError)

	_, err = client.CreateGroupChat(ctx, "Team", []string{"u2", "u2", ""}, "tok")
	require.ErrorIs(t, err, errs.ValidationError)
	require.Zero(t, calls.Load())

	chat, err := client.CreateGroupChat(ctx, "Team", []string{"u2", "u3"}, "tok")
	require.NoError(t, err)
	require.Equal(t, "g1", chat.ID)
	require.Len(t, chat.Users, 3)
}

func TestLoginReturnsToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		require.Equal(t, "/api/auth/login", r.URL.Path)
		_, _ = w.Write([]byte(`{"token":"abc"}`))
	})

	token, err := client.Login(context.Background(), "ada@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	_, err = client.Login(context.Background(), "", "secret")
	require.ErrorIs(t, err, errs.ValidationError)
}

func TestSearchUsersAndCreateChat(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/users/search":
			require.Equal(t, "ada lovelace", r.URL.Query().Get("q"))
			_, _ = w.Write([]byte(`[{"_id":"u2","name":"Ada Lovelace","email":"ada@example.com"}]`))
		case "/api/chats":
			_, _ = w.Write([]byte(`{"_id":"c9","users":[{"_id":"u1"},{"_id":"u2"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	users, err := client.SearchUsers(ctx, "ada lovelace", "tok")
	require.NoError(t, err)
	require.Equal(t, "u2", users[0].ID)

	chat, err := client.CreateChat(ctx, "u2", "tok")
	require.NoError(t, err)
	require.Equal(t, "c9", chat.ID)
}
