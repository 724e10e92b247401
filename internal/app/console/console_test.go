package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chatsync/internal/app/model"
	"chatsync/internal/app/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	me    = model.User{ID: "me", Name: "Alice"}
	bob   = model.User{ID: "bob", Name: "Bob"}
	carol = model.User{ID: "carol", Name: "Carol"}
	stamp = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
)

type identity struct{}

func (identity) Token() string  { return "tok" }
func (identity) UserID() string { return me.ID }

type fakeSession struct {
	mu       sync.Mutex
	st       session.State
	changes  chan struct{}
	selected []string
	inputs   []string
	sent     []string
}

func newFakeSession(chats ...model.Chat) *fakeSession {
	return &fakeSession{
		st:      session.State{Chats: chats, Unread: map[string]int{}, Connected: true},
		changes: make(chan struct{}, 1),
	}
}

func (f *fakeSession) State(context.Context) (session.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.st
	st.Messages = append([]model.Message(nil), f.st.Messages...)
	st.Chats = append([]model.Chat(nil), f.st.Chats...)
	st.Unread = make(map[string]int, len(f.st.Unread))
	for k, v := range f.st.Unread {
		st.Unread[k] = v
	}
	return st, nil
}

func (f *fakeSession) Changes() <-chan struct{} { return f.changes }

func (f *fakeSession) RefreshChats(context.Context) error { return nil }

func (f *fakeSession) SelectChat(_ context.Context, chat model.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, chat.ID)
	f.st.ActiveChatID = chat.ID
	f.st.Messages = nil
	delete(f.st.Unread, chat.ID)
	return nil
}

func (f *fakeSession) SendMessage(_ context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	f.st.Messages = append(f.st.Messages, model.Message{
		ID:        fmt.Sprintf("m-%d", len(f.sent)),
		ChatID:    f.st.ActiveChatID,
		Sender:    me,
		Content:   content,
		CreatedAt: stamp,
	})
	return nil
}

func (f *fakeSession) InputChanged(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, text)
}

func (f *fakeSession) AddChat(chat model.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.Chats = append([]model.Chat{chat}, f.st.Chats...)
	return nil
}

func (f *fakeSession) update(fn func(st *session.State)) {
	f.mu.Lock()
	fn(&f.st)
	f.mu.Unlock()
}

type fakeDirectory struct {
	users   []model.User
	created []string
	groups  [][]string
}

func (d *fakeDirectory) SearchUsers(_ context.Context, query, _ string) ([]model.User, error) {
	var out []model.User
	for _, u := range d.users {
		if strings.Contains(strings.ToLower(u.Name), strings.ToLower(query)) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *fakeDirectory) CreateChat(_ context.Context, userID, _ string) (model.Chat, error) {
	d.created = append(d.created, userID)
	for _, u := range d.users {
		if u.ID == userID {
			return model.Chat{ID: "dm-" + userID, Users: []model.User{me, u}}, nil
		}
	}
	return model.Chat{}, errors.New("user not found")
}

func (d *fakeDirectory) CreateGroupChat(_ context.Context, name string, userIDs []string, _ string) (model.Chat, error) {
	d.groups = append(d.groups, userIDs)
	return model.Chat{ID: "group-1", IsGroup: true, Name: name, Users: []model.User{me, bob, carol}}, nil
}

func directChat(id string, peer model.User) model.Chat {
	return model.Chat{ID: id, Users: []model.User{me, peer}}
}

func TestRunSelectsAndSends(t *testing.T) {
	sess := newFakeSession(directChat("c1", bob), directChat("c2", carol))
	sess.st.Unread["c1"] = 2

	var out bytes.Buffer
	c := New(sess, &fakeDirectory{}, identity{}, &out)

	err := c.Run(context.Background(), strings.NewReader("/chats\n/open 1\nhello bob\n/quit\nignored\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"c1"}, sess.selected)
	assert.Equal(t, []string{"hello bob"}, sess.inputs)
	assert.Equal(t, []string{"hello bob"}, sess.sent)

	text := out.String()
	assert.Contains(t, text, " 1) Bob (2 unread)")
	assert.Contains(t, text, " 2) Carol")
	assert.Contains(t, text, "== Bob ==")
	assert.Contains(t, text, "Alice: hello bob")
	assert.NotContains(t, text, "ignored")
}

func TestRunStopsAtEndOfInput(t *testing.T) {
	sess := newFakeSession()
	var out bytes.Buffer

	require.NoError(t, New(sess, &fakeDirectory{}, identity{}, &out).Run(context.Background(), strings.NewReader("/chats\n")))
	assert.Contains(t, out.String(), "no chats yet")
}

func TestSendRequiresOpenChat(t *testing.T) {
	sess := newFakeSession(directChat("c1", bob))
	c := New(sess, &fakeDirectory{}, identity{}, &bytes.Buffer{})

	err := c.Execute(context.Background(), "hello")
	require.Error(t, err)
	assert.Empty(t, sess.sent)
	assert.Empty(t, sess.inputs)
}

func TestCommandErrors(t *testing.T) {
	sess := newFakeSession(directChat("c1", bob))
	c := New(sess, &fakeDirectory{}, identity{}, &bytes.Buffer{})
	ctx := context.Background()

	assert.Error(t, c.Execute(ctx, "/nope"))
	assert.Error(t, c.Execute(ctx, "/open x"))
	assert.Error(t, c.Execute(ctx, "/open 5"))
	assert.Error(t, c.Execute(ctx, "/dm"))
	assert.Error(t, c.Execute(ctx, "/group lonely"))
	assert.NoError(t, c.Execute(ctx, "   "))
	assert.ErrorIs(t, c.Execute(ctx, "/quit"), errQuit)
	assert.Empty(t, sess.selected)
}

func TestDirectAndGroupChats(t *testing.T) {
	sess := newFakeSession()
	dir := &fakeDirectory{users: []model.User{bob, carol}}
	var out bytes.Buffer
	c := New(sess, dir, identity{}, &out)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/search bo"))
	assert.Contains(t, out.String(), "bob  Bob")

	require.NoError(t, c.Execute(ctx, "/dm bob"))
	assert.Equal(t, []string{"bob"}, dir.created)
	assert.Equal(t, []string{"dm-bob"}, sess.selected)
	assert.Contains(t, out.String(), "== Bob ==")

	require.NoError(t, c.Execute(ctx, "/group Weekend bob, carol"))
	assert.Equal(t, [][]string{{"bob", "carol"}}, dir.groups)
	assert.Equal(t, []string{"dm-bob", "group-1"}, sess.selected)
	assert.Contains(t, out.String(), "== Weekend ==")

	st, _ := sess.State(ctx)
	require.Len(t, st.Chats, 2)
	assert.Equal(t, "group-1", st.Chats[0].ID)
}

func TestRenderReportsChangesOnce(t *testing.T) {
	sess := newFakeSession(directChat("c1", bob), directChat("c2", carol))
	var out bytes.Buffer
	c := New(sess, &fakeDirectory{}, identity{}, &out)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/open 1"))

	sess.update(func(st *session.State) {
		st.Messages = append(st.Messages, model.Message{ID: "p1", ChatID: "c1", Sender: bob, Content: "hey", CreatedAt: stamp})
		st.PeerTyping = true
		st.Unread["c2"] = 1
	})
	c.render(ctx)
	c.render(ctx)

	sess.update(func(st *session.State) {
		st.Connected = false
		st.LastError = errors.New("connection lost")
	})
	c.render(ctx)
	c.render(ctx)

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "Bob: hey"))
	assert.Equal(t, 1, strings.Count(text, "... typing"))
	assert.Equal(t, 1, strings.Count(text, "(1 unread in Carol)"))
	assert.Equal(t, 1, strings.Count(text, "[offline, reconnecting]"))
	assert.Equal(t, 1, strings.Count(text, "! connection lost"))
}

func TestWatcherRendersOnChange(t *testing.T) {
	sess := newFakeSession(directChat("c1", bob))
	sess.st.Connected = false

	out := &lockedBuffer{}
	c := New(sess, &fakeDirectory{}, identity{}, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.watch(ctx)
	}()

	sess.update(func(st *session.State) { st.Connected = true })
	sess.changes <- struct{}{}

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[online]")
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("a\nb"))
	long := strings.Repeat("x", 50)
	assert.Equal(t, strings.Repeat("x", 39)+"…", preview(long))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
