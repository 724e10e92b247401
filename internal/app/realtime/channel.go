/*
Package realtime implements the push channel of the synchronization core: one websocket
connection per session carrying live message and typing events.

A Channel owns at most one live connection. Connect replaces the previous connection, Close tears
everything down, and transport failures are reported to Disconnected handlers. Reconnecting is the
caller's decision.
*/
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/app/model"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

// Kind identifies a channel event, inbound or outbound.
type Kind int

const (
	// MessageDelivered is received as "message received" and emitted as "new message".
	MessageDelivered Kind = iota + 1
	PeerTypingStarted
	PeerTypingStopped
	Ready
	Disconnected
	TypingStarted
	TypingStopped
)

func (k Kind) String() string {
	switch k {
	case MessageDelivered:
		return "messageDelivered"
	case PeerTypingStarted:
		return "peerTypingStarted"
	case PeerTypingStopped:
		return "peerTypingStopped"
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnected"
	case TypingStarted:
		return "typingStarted"
	case TypingStopped:
		return "typingStopped"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is delivered to handlers registered with On.
type Event struct {
	Kind Kind

	// ChatID is set for typing events and copied from Message for MessageDelivered.
	ChatID string

	Message model.Message

	// Err is the cause of a Disconnected event.
	Err error
}

// Handler receives channel events. Handlers run on the channel's read goroutine (or on the
// goroutine calling Connect, for Ready) and must not block.
type Handler func(Event)

const defaultSendBuffer = 64

// Config configures a Channel.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	Header http.Header

	// SendBuffer is the capacity of the outbound queue. Frames beyond it are dropped.
	SendBuffer int
}

// Channel is a push channel. Safe for concurrent use.
type Channel struct {
	url        string
	dialer     *websocket.Dialer
	header     http.Header
	sendBuffer int
	logger     zerolog.Logger

	mu         sync.Mutex
	handlers   map[Kind][]Handler
	conn       *connection
	closed     bool
	dialCancel context.CancelFunc
	dialSeq    uint64
}

// New builds a Channel. It does not dial.
func New(cfg Config) (*Channel, error) {
	if cfg.URL == "" {
		return nil, errs.Newf(errs.KindValidation, "new channel", "socket url is required")
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}

	return &Channel{
		url:        cfg.URL,
		dialer:     dialer,
		header:     cfg.Header,
		sendBuffer: sendBuffer,
		logger:     logx.Component("realtime").With().Str("url", cfg.URL).Logger(),
		handlers:   make(map[Kind][]Handler),
	}, nil
}

// On registers h for kind. Handlers for one kind fire in registration order.
func (c *Channel) On(kind Kind, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], h)
}

// Connect dials the endpoint, replacing any live connection, and fires Ready on success.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.Newf(errs.KindConnection, "connect", "channel closed")
	}
	old := c.conn
	c.conn = nil
	if c.dialCancel != nil {
		c.dialCancel()
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c.dialCancel = cancel
	c.dialSeq++
	seq := c.dialSeq
	c.mu.Unlock()

	// The old pumps must be gone before a new connection exists.
	if old != nil {
		old.shutdown()
		old.wait()
	}

	ws, resp, err := c.dialer.DialContext(dialCtx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if c.dialSeq == seq {
		c.dialCancel = nil
	}
	cancel()

	if err != nil {
		c.mu.Unlock()
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		c.logger.Warn().Err(err).Msg("Websocket dial failed")
		return errs.New(errs.KindConnection, "connect", err)
	}

	if c.closed || c.dialSeq != seq {
		c.mu.Unlock()
		ws.Close()
		return errs.Newf(errs.KindConnection, "connect", "connect superseded")
	}

	conn := newConnection(c, ws)
	c.conn = conn
	conn.start()
	c.mu.Unlock()

	c.logger.Info().Msg("Push channel connected")

	c.dispatch(Event{Kind: Ready})
	return nil
}

// Connected reports whether a live connection exists.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Register identifies the session to the server.
func (c *Channel) Register(token string) {
	c.enqueue(EventSetup, SetupPayload{Token: token})
}

// JoinScope subscribes the connection to a chat's events. Repeated joins of the same chat on the
// same connection are no-ops; a new connection starts with no scopes.
func (c *Channel) JoinScope(chatID string) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		c.logger.Warn().Str("chat_id", chatID).Msg("Join dropped, channel not connected")
		return
	}
	if _, ok := conn.joined[chatID]; ok {
		c.mu.Unlock()
		return
	}
	conn.joined[chatID] = struct{}{}
	c.mu.Unlock()

	c.enqueue(EventJoinChat, ScopePayload{ChatID: chatID})
}

// Emit sends an outbound event. MessageDelivered expects a model.Message payload; typing kinds
// only use chatID. Events are dropped with a warning when the channel is not connected.
func (c *Channel) Emit(kind Kind, chatID string, payload any) {
	switch kind {
	case MessageDelivered:
		msg, ok := payload.(model.Message)
		if !ok {
			c.logger.Error().Str("payload_type", fmt.Sprintf("%T", payload)).Msg("Emit messageDelivered without a message")
			return
		}
		c.enqueue(EventNewMessage, msg)

	case TypingStarted:
		c.enqueue(EventTyping, ScopePayload{ChatID: chatID})

	case TypingStopped:
		c.enqueue(EventStopTyping, ScopePayload{ChatID: chatID})

	default:
		c.logger.Error().Stringer("kind", kind).Msg("Event kind cannot be emitted")
	}
}

// Close tears down the connection and cancels an in-flight dial. It waits for the connection's
// goroutines to exit. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.shutdown()
		conn.wait()
	}
	c.logger.Debug().Msg("Push channel closed")
}

func (c *Channel) enqueue(event string, data any) {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("Failed to encode frame")
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.logger.Warn().Str("event", event).Msg("Frame dropped, channel not connected")
		return
	}

	select {
	case conn.send <- frame:
	case <-conn.stop:
		c.logger.Warn().Str("event", event).Msg("Frame dropped, connection closing")
	default:
		c.logger.Warn().Str("event", event).Int("queue_len", len(conn.send)).Msg("Send queue full, dropping frame")
	}
}

func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[ev.Kind]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// lost is called by a connection whose read loop ended without a local shutdown.
func (c *Channel) lost(conn *connection, cause error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()

	if !current {
		return
	}

	c.logger.Warn().Err(cause).Msg("Push channel disconnected")
	c.dispatch(Event{Kind: Disconnected, Err: errs.New(errs.KindConnection, "receive", cause)})
}
