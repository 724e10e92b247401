package db

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// testStores returns the memory store and, when CHATSYNC_TEST_DATABASE_URL is set, a migrated
// Postgres store.
func testStores(t *testing.T) map[string]func(t *testing.T) Store {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
	}

	if dsn := os.Getenv("CHATSYNC_TEST_DATABASE_URL"); dsn != "" {
		stores["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), dsn)
			require.NoError(t, err)
			_, err = s.pool.Exec(context.Background(), `TRUNCATE messages, chat_members, chats, users`)
			require.NoError(t, err)
			return s
		}
	}
	return stores
}

func TestStoreContract(t *testing.T) {
	for name, open := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			alice, err := s.CreateUser(ctx, "Alice", "alice@example.com", "hash-a")
			require.NoError(t, err)
			bob, err := s.CreateUser(ctx, "Bob", "bob@example.com", "hash-b")
			require.NoError(t, err)
			carol, err := s.CreateUser(ctx, "Carol", "carol@example.com", "hash-c")
			require.NoError(t, err)

			_, err = s.CreateUser(ctx, "Alice Again", "alice@example.com", "x")
			require.ErrorIs(t, err, ErrDuplicate)

			record, err := s.UserByEmail(ctx, "alice@example.com")
			require.NoError(t, err)
			require.Equal(t, alice.ID, record.ID)
			require.Equal(t, "hash-a", record.PasswordHash)

			_, err = s.UserByEmail(ctx, "nobody@example.com")
			require.ErrorIs(t, err, ErrNotFound)

			found, err := s.SearchUsers(ctx, "o", alice.ID, 10)
			require.NoError(t, err)
			require.Len(t, found, 2)
			require.Equal(t, "Bob", found[0].Name)
			require.Equal(t, "Carol", found[1].Name)

			users, err := s.UsersByID(ctx, []string{carol.ID, bob.ID})
			require.NoError(t, err)
			require.Equal(t, []string{carol.ID, bob.ID}, []string{users[0].ID, users[1].ID})

			_, err = s.UsersByID(ctx, []string{"missing"})
			require.ErrorIs(t, err, ErrNotFound)

			direct, err := s.DirectChat(ctx, alice.ID, bob.ID)
			require.NoError(t, err)
			require.False(t, direct.IsGroup)
			require.True(t, direct.HasUser(bob.ID))

			again, err := s.DirectChat(ctx, bob.ID, alice.ID)
			require.NoError(t, err)
			require.Equal(t, direct.ID, again.ID)

			group, err := s.CreateGroupChat(ctx, "Crew", []string{alice.ID, bob.ID, carol.ID})
			require.NoError(t, err)
			require.True(t, group.IsGroup)
			require.Equal(t, "Crew", group.Name)
			require.Len(t, group.Users, 3)

			first, err := s.CreateMessage(ctx, direct.ID, alice.ID, "hi bob")
			require.NoError(t, err)
			require.Equal(t, direct.ID, first.ChatID)
			require.Equal(t, alice.ID, first.Sender.ID)
			require.False(t, first.CreatedAt.IsZero())

			second, err := s.CreateMessage(ctx, direct.ID, bob.ID, "hi alice")
			require.NoError(t, err)

			_, err = s.CreateMessage(ctx, "missing", alice.ID, "x")
			require.ErrorIs(t, err, ErrNotFound)

			history, err := s.Messages(ctx, direct.ID)
			require.NoError(t, err)
			require.Equal(t, []string{first.ID, second.ID}, []string{history[0].ID, history[1].ID})

			_, err = s.Messages(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			chats, err := s.ChatsForUser(ctx, alice.ID)
			require.NoError(t, err)
			require.Len(t, chats, 2)
			require.Equal(t, direct.ID, chats[0].ID, "most recently active first")
			require.Equal(t, second.ID, chats[0].LatestMessage.ID)

			carolChats, err := s.ChatsForUser(ctx, carol.ID)
			require.NoError(t, err)
			require.Len(t, carolChats, 1)
			require.Nil(t, carolChats[0].LatestMessage)

			_, err = s.Chat(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDirectKeyIsOrderIndependent(t *testing.T) {
	require.Equal(t, directKey("a", "b"), directKey("b", "a"))
}
