/*
Package session holds the synchronization core's state machine.

A Store owns the session state for one signed-in user: the chat list, the active chat and its
message buffer, unread counters and typing flags. Every mutation runs on a single loop goroutine.
Public methods post work to the loop and wait for the outcome; snapshot calls run on the caller's
goroutine and post their results back, so the loop never blocks on the network. Push channel
handlers also post into the loop, so they always see the current active chat.
*/
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/app/credential"
	"chatsync/internal/app/model"
	"chatsync/internal/app/realtime"
	"chatsync/internal/pkg/clock"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("session: store closed")

// SnapshotAPI is the request/response collaborator. *snapshot.Client implements it.
type SnapshotAPI interface {
	FetchChatList(ctx context.Context, token string) ([]model.Chat, error)
	FetchMessageHistory(ctx context.Context, chatID, token string) ([]model.Message, error)
	PostMessage(ctx context.Context, chatID, content, token string) (model.Message, error)
}

// PushChannel is the live event collaborator. *realtime.Channel implements it.
type PushChannel interface {
	Connect(ctx context.Context) error
	Register(token string)
	JoinScope(chatID string)
	On(kind realtime.Kind, h realtime.Handler)
	Emit(kind realtime.Kind, chatID string, payload any)
	Close()
}

// Options tunes a Store. The zero value is usable.
type Options struct {
	// Clock drives the typing debounce. Defaults to clock.Real().
	Clock clock.Clock

	// TypingTimeout defaults to DefaultTypingTimeout.
	TypingTimeout time.Duration

	// UnscopedPeerTyping applies peer typing events from any chat, not only the active one.
	UnscopedPeerTyping bool

	// ReconnectBase and ReconnectMax bound the exponential reconnect backoff.
	// Defaults are 500ms and 30s.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// MaxReconnectAttempts stops reconnecting after that many failures. Zero retries until Close.
	MaxReconnectAttempts uint64

	// DisableReconnect leaves the channel down after a disconnect.
	DisableReconnect bool
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = DefaultTypingTimeout
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = 500 * time.Millisecond
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
}

// State is a point-in-time copy of the session state. Callers own it.
type State struct {
	// ActiveChatID is empty when no chat is selected.
	ActiveChatID string

	// Messages is the buffer of the active chat, in arrival order.
	Messages []model.Message

	Unread map[string]int

	PeerTyping bool
	SelfTyping bool

	// Input is the draft text of the composer.
	Input string

	Chats []model.Chat

	// Connected reports whether the push channel is up.
	Connected bool

	// LastError is the most recent failure of a background task.
	LastError error
}

// Store is the session store. Create it with Start and release it with Close.
type Store struct {
	cred   *credential.Context
	api    SnapshotAPI
	ch     PushChannel
	opts   Options
	logger zerolog.Logger

	work    chan func()
	quit    chan struct{}
	done    chan struct{}
	changes chan struct{}

	closeOnce sync.Once

	// lifetime is cancelled by Close; background work derives from it.
	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Everything below is owned by the loop goroutine.
	activeID   string
	messages   []model.Message
	chats      []model.Chat
	input      string
	peerTyping bool
	connected  bool
	lastError  error

	unread *unreadTracker
	typing *typingCoordinator

	historySeq   uint64
	reconnecting bool
}

// Start builds a Store, connects the push channel and begins loading the chat list in the
// background. A failed initial connect is recorded in State.LastError and retried like any other
// disconnect.
func Start(ctx context.Context, cred *credential.Context, api SnapshotAPI, ch PushChannel, opts Options) (*Store, error) {
	if cred == nil {
		return nil, errs.Newf(errs.KindAuth, "start session", "no credential")
	}
	if api == nil || ch == nil {
		return nil, errs.Newf(errs.KindValidation, "start session", "snapshot api and push channel are required")
	}
	opts.setDefaults()

	lifetime, cancel := context.WithCancel(context.Background())
	s := &Store{
		cred:     cred,
		api:      api,
		ch:       ch,
		opts:     opts,
		logger:   logx.Component("session").With().Str("user_id", cred.UserID()).Logger(),
		work:     make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		changes:  make(chan struct{}, 1),
		lifetime: lifetime,
		cancel:   cancel,
		unread:   newUnreadTracker(),
	}
	s.typing = newTypingCoordinator(opts.Clock, opts.TypingTimeout, s.emitTyping, s.typingExpired)

	ch.On(realtime.MessageDelivered, func(ev realtime.Event) {
		msg := ev.Message
		s.post(func() { s.receive(msg, true) })
	})
	ch.On(realtime.PeerTypingStarted, func(ev realtime.Event) {
		chatID := ev.ChatID
		s.post(func() { s.setPeerTyping(chatID, true) })
	})
	ch.On(realtime.PeerTypingStopped, func(ev realtime.Event) {
		chatID := ev.ChatID
		s.post(func() { s.setPeerTyping(chatID, false) })
	})
	ch.On(realtime.Ready, func(realtime.Event) {
		s.post(s.onReady)
	})
	ch.On(realtime.Disconnected, func(ev realtime.Event) {
		cause := ev.Err
		s.post(func() { s.onDisconnected(cause) })
	})

	go s.run()

	if err := ch.Connect(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Initial push channel connect failed")
		s.post(func() { s.onDisconnected(err) })
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.RefreshChats(s.lifetime); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Error().Err(err).Msg("Initial chat list load failed")
		}
	}()

	return s, nil
}

func (s *Store) run() {
	defer close(s.done)

	for {
		select {
		case fn := <-s.work:
			fn()

		case <-s.quit:
			s.typing.stop()
			return
		}
	}
}

// post queues fn on the loop. It reports false once the store is closed.
func (s *Store) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}

	select {
	case s.work <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Store) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !s.post(func() { result <- fn() }) {
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// bound derives a context that is also cancelled when the store closes.
func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Changes returns a channel signalled after state mutations. Signals coalesce; read State to see
// the current values. The channel is closed by Close.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// State returns a copy of the current session state.
func (s *Store) State(ctx context.Context) (State, error) {
	var st State
	err := s.call(ctx, func() error {
		st = s.snapshotLocked()
		return nil
	})
	return st, err
}

func (s *Store) snapshotLocked() State {
	chats := make([]model.Chat, len(s.chats))
	for i, c := range s.chats {
		chats[i] = c.Clone()
	}
	return State{
		ActiveChatID: s.activeID,
		Messages:     append([]model.Message(nil), s.messages...),
		Unread:       s.unread.snapshot(),
		PeerTyping:   s.peerTyping,
		SelfTyping:   s.typing.typing,
		Input:        s.input,
		Chats:        chats,
		Connected:    s.connected,
		LastError:    s.lastError,
	}
}

// RefreshChats replaces the chat list with the server's.
func (s *Store) RefreshChats(ctx context.Context) error {
	fetchCtx, cancel := s.bound(ctx)
	defer cancel()

	chats, err := s.api.FetchChatList(fetchCtx, s.cred.Token())

	return s.call(context.WithoutCancel(ctx), func() error {
		if err != nil {
			s.lastError = err
			s.notify()
			return err
		}
		s.chats = chats
		s.notify()
		return nil
	})
}

// SelectChat makes chat the active chat and loads its history. A history result that arrives
// after another SelectChat is discarded and nil is returned.
func (s *Store) SelectChat(ctx context.Context, chat model.Chat) error {
	if strings.TrimSpace(chat.ID) == "" {
		return errs.Newf(errs.KindValidation, "select chat", "chat id is required")
	}

	var seq uint64
	if err := s.call(ctx, func() error {
		seq = s.selectChat(chat.ID)
		return nil
	}); err != nil {
		return err
	}

	fetchCtx, cancel := s.bound(ctx)
	history, fetchErr := s.api.FetchMessageHistory(fetchCtx, chat.ID, s.cred.Token())
	cancel()

	return s.call(context.WithoutCancel(ctx), func() error {
		return s.applyHistory(seq, chat.ID, history, fetchErr)
	})
}

func (s *Store) selectChat(chatID string) uint64 {
	s.typing.reset()

	s.activeID = chatID
	s.messages = s.unread.take(chatID)
	s.peerTyping = false
	s.historySeq++

	// While disconnected the join would reach the server ahead of setup and be rejected. onReady
	// joins activeID after registering.
	if s.connected {
		s.ch.JoinScope(chatID)
	}
	s.notify()

	s.logger.Debug().Str("chat_id", chatID).Msg("Chat selected")
	return s.historySeq
}

func (s *Store) applyHistory(seq uint64, chatID string, history []model.Message, fetchErr error) error {
	if seq != s.historySeq || chatID != s.activeID {
		s.logger.Debug().Str("chat_id", chatID).Msg("Discarding stale history result")
		return nil
	}

	if fetchErr != nil {
		return fetchErr
	}

	// Messages already in the buffer arrived by push, either while the chat was in the
	// background or during the fetch. They follow the history unless the history has them.
	merged := make([]model.Message, 0, len(history)+len(s.messages))
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		if m.ChatID != "" && m.ChatID != chatID {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		s.unread.see(chatID, m.ID)
		merged = append(merged, m)
	}
	for _, m := range s.messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	s.messages = merged
	s.notify()
	return nil
}

// ReceiveMessage dispatches a message to the active buffer or to the unread counters.
func (s *Store) ReceiveMessage(msg model.Message) {
	_ = s.call(context.Background(), func() error {
		s.receive(msg, true)
		return nil
	})
}

// receive is the single dispatch point for incoming messages. countUnread is false for the
// caller's own sends, which never count as unread.
func (s *Store) receive(msg model.Message, countUnread bool) {
	if err := msg.Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring invalid message")
		return
	}

	if msg.ChatID == s.activeID {
		s.unread.see(msg.ChatID, msg.ID)
		if !s.buffered(msg.ID) {
			s.messages = append(s.messages, msg)
		}
	} else if !countUnread {
		s.unread.see(msg.ChatID, msg.ID)
	} else {
		s.unread.add(msg)
	}

	for i := range s.chats {
		if s.chats[i].ID == msg.ChatID {
			latest := msg
			s.chats[i].LatestMessage = &latest
			break
		}
	}

	s.notify()
}

func (s *Store) buffered(id string) bool {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return true
		}
	}
	return false
}

// SendMessage posts content to the active chat. Empty or whitespace content, or no active chat,
// is a no-op that returns nil without touching the network.
func (s *Store) SendMessage(ctx context.Context, content string) error {
	var chatID string
	if err := s.call(ctx, func() error {
		if strings.TrimSpace(content) != "" {
			chatID = s.activeID
		}
		return nil
	}); err != nil {
		return err
	}
	if chatID == "" {
		return nil
	}

	postCtx, cancel := s.bound(ctx)
	msg, postErr := s.api.PostMessage(postCtx, chatID, content, s.cred.Token())
	cancel()

	if postErr != nil {
		s.logger.Warn().Err(postErr).Str("chat_id", chatID).Msg("Send failed")
		return postErr
	}

	return s.call(context.WithoutCancel(ctx), func() error {
		if msg.ChatID == "" {
			msg.ChatID = chatID
		}
		s.receive(msg, false)
		s.ch.Emit(realtime.MessageDelivered, msg.ChatID, msg)
		s.typing.forceIdle(chatID)
		s.input = ""
		s.notify()
		return nil
	})
}

// InputChanged records the draft text and drives the typing signal.
func (s *Store) InputChanged(text string) {
	_ = s.call(context.Background(), func() error {
		s.input = text
		if s.activeID != "" {
			s.typing.keystroke(s.activeID)
		}
		s.notify()
		return nil
	})
}

// AddChat puts a newly created chat at the front of the chat list.
func (s *Store) AddChat(chat model.Chat) error {
	if err := chat.Validate(); err != nil {
		return err
	}

	return s.call(context.Background(), func() error {
		chats := make([]model.Chat, 0, len(s.chats)+1)
		chats = append(chats, chat.Clone())
		for _, c := range s.chats {
			if c.ID != chat.ID {
				chats = append(chats, c)
			}
		}
		s.chats = chats
		s.notify()
		return nil
	})
}

func (s *Store) setPeerTyping(chatID string, on bool) {
	if !s.opts.UnscopedPeerTyping && chatID != s.activeID {
		return
	}
	if s.peerTyping == on {
		return
	}
	s.peerTyping = on
	s.notify()
}

func (s *Store) emitTyping(kind realtime.Kind, chatID string) {
	s.ch.Emit(kind, chatID, nil)
}

// typingExpired runs on the clock's goroutine.
func (s *Store) typingExpired(gen uint64) {
	s.post(func() {
		if s.typing.fire(gen) {
			s.notify()
		}
	})
}

// Close stops the loop, the typing timer, background work and the push channel. Idempotent.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.quit)
		<-s.done

		s.ch.Close()
		s.wg.Wait()
		close(s.changes)

		s.logger.Debug().Msg("Session closed")
	})
}
