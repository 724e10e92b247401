package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/app/model"
	"chatsync/internal/app/realtime"
	"chatsync/internal/pkg/errs"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func msgFor(id, chatID, senderID, content string) model.Message {
	return model.Message{
		ID:        id,
		ChatID:    chatID,
		Sender:    model.User{ID: senderID, Name: senderID},
		Content:   content,
		CreatedAt: epoch,
	}
}

type postCall struct {
	chatID  string
	content string
	token   string
}

// fakeAPI is an in-memory SnapshotAPI. History fetches for a chat listed in gates block until the
// gate is closed.
type fakeAPI struct {
	mu sync.Mutex

	chats    []model.Chat
	chatsErr error

	history    map[string][]model.Message
	historyErr error
	gates      map[string]chan struct{}
	fetched    []string
	fetchStart chan string

	postErr error
	posts   []postCall
	nextID  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		history:    make(map[string][]model.Message),
		gates:      make(map[string]chan struct{}),
		fetchStart: make(chan string, 16),
	}
}

func (f *fakeAPI) FetchChatList(ctx context.Context, token string) ([]model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatsErr != nil {
		return nil, f.chatsErr
	}
	return append([]model.Chat(nil), f.chats...), nil
}

func (f *fakeAPI) FetchMessageHistory(ctx context.Context, chatID, token string) ([]model.Message, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, chatID)
	gate := f.gates[chatID]
	f.mu.Unlock()

	select {
	case f.fetchStart <- chatID:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errs.New(errs.KindNetwork, "fetch message history", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]model.Message(nil), f.history[chatID]...), nil
}

func (f *fakeAPI) PostMessage(ctx context.Context, chatID, content, token string) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, postCall{chatID: chatID, content: content, token: token})
	if f.postErr != nil {
		return model.Message{}, f.postErr
	}
	f.nextID++
	return msgFor(fmt.Sprintf("sent-%d", f.nextID), chatID, "me", content), nil
}

func (f *fakeAPI) gate(chatID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[chatID] = g
	return g
}

func (f *fakeAPI) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func (f *fakeAPI) fetchedChats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type emitted struct {
	kind    realtime.Kind
	chatID  string
	payload any
}

// fakeChannel records what the store asks of the push channel and lets tests fire inbound events.
type fakeChannel struct {
	mu         sync.Mutex
	handlers   map[realtime.Kind][]realtime.Handler
	emits      []emitted
	joins      []string
	registers  []string
	calls      []string
	connectErr error
	// beforeReady runs inside Connect once the dial succeeded, ahead of the Ready event.
	beforeReady func()
	connects   int
	closed     int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[realtime.Kind][]realtime.Handler)}
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	err := f.connectErr
	hook := f.beforeReady
	if err == nil {
		f.calls = append(f.calls, "connect")
	}
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	f.fire(realtime.Event{Kind: realtime.Ready})
	return nil
}

func (f *fakeChannel) Register(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers = append(f.registers, token)
	f.calls = append(f.calls, "setup")
}

func (f *fakeChannel) JoinScope(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, chatID)
	f.calls = append(f.calls, "join:"+chatID)
}

func (f *fakeChannel) On(kind realtime.Kind, h realtime.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = append(f.handlers[kind], h)
}

func (f *fakeChannel) Emit(kind realtime.Kind, chatID string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{kind: kind, chatID: chatID, payload: payload})
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeChannel) fire(ev realtime.Event) {
	f.mu.Lock()
	handlers := append([]realtime.Handler(nil), f.handlers[ev.Kind]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (f *fakeChannel) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeChannel) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeChannel) emitsOf(kind realtime.Kind) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.emits {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeChannel) allEmits() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

func (f *fakeChannel) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

func (f *fakeChannel) registered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.registers...)
}

func (f *fakeChannel) setBeforeReady(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeReady = hook
}

// lastConnection returns the setup and join calls made since the most recent successful connect.
func (f *fakeChannel) lastConnection() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i] == "connect" {
			return append([]string(nil), f.calls[i+1:]...)
		}
	}
	return nil
}
