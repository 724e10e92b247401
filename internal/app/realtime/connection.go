package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/app/model"
)

const (
	// timeout duration for writing to the websocket connection.
	writeWait = 10 * time.Second

	// maximum time to wait for any frame or Pong from the server.
	pongWait = 60 * time.Second

	// frequency at which the client sends a Ping.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the server.
	maxFrameSize = 64 * 1024
)

// connection is one dialed websocket and its two pumps.
type connection struct {
	channel *Channel
	ws      *websocket.Conn
	logger  zerolog.Logger

	// a buffered channel of frames waiting to be written.
	send chan []byte

	// closed when the connection is being torn down, locally or not.
	stop     chan struct{}
	stopOnce sync.Once

	// set when the teardown was requested by Connect or Close.
	local atomic.Bool

	// chat ids joined on this connection; guarded by channel.mu.
	joined map[string]struct{}

	wg sync.WaitGroup
}

func newConnection(ch *Channel, ws *websocket.Conn) *connection {
	return &connection{
		channel: ch,
		ws:      ws,
		logger:  ch.logger,
		send:    make(chan []byte, ch.sendBuffer),
		stop:    make(chan struct{}),
		joined:  make(map[string]struct{}),
	}
}

func (c *connection) start() {
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

func (c *connection) wait() {
	c.wg.Wait()
}

// shutdown closes the connection without reporting it as lost.
func (c *connection) shutdown() {
	c.local.Store(true)
	c.stopOnce.Do(func() { close(c.stop) })

	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.ws.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second)); err != nil {
		c.logger.Debug().Err(err).Msg("Close frame not sent")
	}
	c.ws.Close()
}

// readPump reads frames until the connection fails or is shut down.
func (c *connection) readPump() {
	defer c.wg.Done()

	c.ws.SetReadLimit(maxFrameSize)

	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.fail(err)
		return
	}

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.fail(err)
			return
		}

		c.processInbound(data)
	}
}

func (c *connection) fail(err error) {
	c.stopOnce.Do(func() { close(c.stop) })
	c.ws.Close()

	if c.local.Load() {
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		c.logger.Info().Err(err).Msg("Unexpected close from server")
	}
	c.channel.lost(c, err)
}

func (c *connection) processInbound(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn().Err(err).Bytes("frame", data).Msg("Server sent invalid JSON")
		return
	}

	switch frame.Event {
	case EventMessageReceived:
		msg, err := model.ParseMessage(frame.Data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Server sent an invalid message")
			return
		}
		c.channel.dispatch(Event{Kind: MessageDelivered, ChatID: msg.ChatID, Message: msg})

	case EventTyping, EventStopTyping:
		chatID, err := DecodeScope(frame.Data)
		if err != nil || chatID == "" {
			c.logger.Warn().Err(err).Str("event", frame.Event).Msg("Typing frame without chat id")
			return
		}
		kind := PeerTypingStarted
		if frame.Event == EventStopTyping {
			kind = PeerTypingStopped
		}
		c.channel.dispatch(Event{Kind: kind, ChatID: chatID})

	case EventConnected:
		c.logger.Debug().Msg("Server acknowledged setup")

	case EventError:
		c.logger.Warn().RawJSON("error", frame.Data).Msg("Server rejected a frame")

	default:
		c.logger.Warn().Str("event", frame.Event).Msg("Server sent unsupported event")
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		c.wg.Done()
		ticker.Stop()
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.stop:
			return
		}
	}
}

// write returns false if the pump should terminate. A failed write closes the socket so the read
// pump reports the loss.
func (c *connection) write(messageType int, data []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		c.ws.Close()
		return false
	}

	if err := c.ws.WriteMessage(messageType, data); err != nil {
		if !c.local.Load() {
			c.logger.Error().Err(err).Msg("Error writing frame")
		}
		c.ws.Close()
		return false
	}

	return true
}
