package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/app/db"
	"chatsync/internal/app/model"
	"chatsync/internal/app/realtime"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 16 * 1024

	// lookupTimeout bounds the membership lookup behind join and relay frames.
	lookupTimeout = 5 * time.Second
)

// Client is one websocket connection attached to the Hub.
type Client struct {
	hub *Hub

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// a buffered channel of frames waiting to be written. Only the Hub closes it.
	send chan []byte

	// userID is set by a valid setup frame. Read and written by ReadPump only.
	userID string

	logger zerolog.Logger
}

// NewClient constructs a Client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logx.Component("hub").With().Str("remote_addr", conn.RemoteAddr().String()).Logger(),
	}
}

// ReadPump handles reading frames from the WebSocket connection.
// It handles heartbeats (Pong), frame parsing, and performs cleanup upon connection closure.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			break
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error().Err(err).Msg("Failed to extend read deadline")
			break
		}

		c.processInbound(data)
	}
}

// cleanupOnDisconnect unregisters the client and closes the connection.
func (c *Client) cleanupOnDisconnect() {
	post(c.hub, c.hub.unregister, c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

func (c *Client) processInbound(data []byte) {
	var frame realtime.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.hub.replyError(c, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if frame.Event != realtime.EventSetup && c.userID == "" {
		c.hub.replyError(c, errs.NewError(errs.ErrUnauthorized))
		return
	}

	switch frame.Event {
	case realtime.EventSetup:
		c.handleSetup(frame.Data)

	case realtime.EventJoinChat:
		c.handleJoin(frame.Data)

	case realtime.EventNewMessage:
		c.handleNewMessage(frame.Data)

	case realtime.EventTyping, realtime.EventStopTyping:
		chatID, err := realtime.DecodeScope(frame.Data)
		if err != nil || chatID == "" {
			c.hub.replyError(c, errs.NewError(errs.ErrInvalidParams))
			return
		}
		c.hub.relay(delivery{
			frame:  mustFrame(frame.Event, realtime.ScopePayload{ChatID: chatID}),
			chatID: chatID,
			except: c,
		})

	default:
		c.logger.Warn().Str("event", frame.Event).Msg("Client sent unsupported event")
	}
}

func (c *Client) handleSetup(data json.RawMessage) {
	var setup realtime.SetupPayload
	if err := json.Unmarshal(data, &setup); err != nil || setup.Token == "" {
		c.hub.replyError(c, errs.NewError(errs.ErrUnauthorized))
		return
	}

	payload, err := jwt.ParseToken(setup.Token, c.hub.secret)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Setup with invalid token")
		c.hub.replyError(c, errs.NewError(errs.ErrUnauthorized))
		return
	}

	c.userID = payload.UserID
	post(c.hub, c.hub.identify, identifyRequest{client: c, userID: c.userID})
}

// memberChat loads chatID and checks the client's user belongs to it.
func (c *Client) memberChat(chatID string) (model.Chat, *errs.CustomError) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	chat, err := c.hub.chats.Chat(ctx, chatID)
	if errors.Is(err, db.ErrNotFound) {
		return model.Chat{}, errs.NewError(errs.ErrChatNotFound)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("chat_id", chatID).Msg("Chat lookup failed")
		return model.Chat{}, errs.NewError(errs.ErrUnknown)
	}
	if !chat.HasUser(c.userID) {
		return model.Chat{}, errs.NewError(errs.ErrNotChatMember)
	}
	return chat, nil
}

func (c *Client) handleJoin(data json.RawMessage) {
	chatID, err := realtime.DecodeScope(data)
	if err != nil || chatID == "" {
		c.hub.replyError(c, errs.NewError(errs.ErrInvalidParams))
		return
	}

	if _, customErr := c.memberChat(chatID); customErr != nil {
		c.hub.replyError(c, customErr)
		return
	}

	post(c.hub, c.hub.join, joinRequest{client: c, chatID: chatID})
	c.logger.Debug().Str("user_id", c.userID).Str("chat_id", chatID).Msg("Client joined chat")
}

// handleNewMessage relays a stored message to the other members of its chat.
func (c *Client) handleNewMessage(data json.RawMessage) {
	msg, err := model.ParseMessage(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Client sent an invalid message")
		c.hub.replyError(c, errs.NewError(errs.ErrInvalidParams))
		return
	}
	if msg.Sender.ID != c.userID {
		c.hub.replyError(c, errs.NewError(errs.ErrInvalidParams))
		return
	}

	chat, customErr := c.memberChat(msg.ChatID)
	if customErr != nil {
		c.hub.replyError(c, customErr)
		return
	}

	recipients := make([]string, 0, len(chat.Users))
	for _, u := range chat.Users {
		if u.ID != c.userID {
			recipients = append(recipients, u.ID)
		}
	}
	c.hub.relayMessage(msg, recipients, c)
}

// WritePump handles writing frames from the send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeQueuedFrame returns true if the WritePump loop should continue.
func (c *Client) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Error().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

// writePing sends a periodic WebSocket Ping to maintain the connection heartbeat.
func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
