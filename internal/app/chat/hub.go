/*
Package chat implements the development backend's push hub.

The Hub tracks every websocket client, the user each client identified as, and the chats each
client joined. It relays "new message" frames to the other members of a chat and typing frames to
the other clients joined to that chat. All bookkeeping happens on the Hub's Run loop; clients talk
to it through channels.
*/
package chat

import (
	"context"

	"github.com/rs/zerolog"

	"chatsync/internal/app/model"
	"chatsync/internal/app/realtime"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

const hubChannelBuffer = 256

// ChatLookup resolves chats for membership checks. db.Store implements it.
type ChatLookup interface {
	Chat(ctx context.Context, chatID string) (model.Chat, error)
}

// ErrorPayload is the data of an "error" frame.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type identifyRequest struct {
	client *Client
	userID string
}

type joinRequest struct {
	client *Client
	chatID string
}

// delivery is one frame routed by the hub. Exactly one of to, userIDs or chatID selects the
// recipients; except is skipped.
type delivery struct {
	frame   []byte
	to      *Client
	userIDs []string
	chatID  string
	except  *Client
}

// Stats is a point-in-time count of the hub's connections.
type Stats struct {
	Clients int `json:"clients"`

	// Users counts distinct identified users.
	Users int `json:"users"`
}

// Hub is the push hub.
type Hub struct {
	// secret verifies the tokens sent in setup frames.
	secret string

	chats ChatLookup

	clients map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}
	byChat  map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	identify   chan identifyRequest
	join       chan joinRequest
	deliver    chan delivery
	stats      chan chan Stats

	// closed to stop the Run loop.
	stopChan chan struct{}

	// closed when the Run loop has exited.
	done chan struct{}

	logger zerolog.Logger
}

// NewHub constructs a Hub and starts its Run loop.
func NewHub(secret string, chats ChatLookup) *Hub {
	h := &Hub{
		secret:     secret,
		chats:      chats,
		clients:    make(map[*Client]struct{}),
		byUser:     make(map[string]map[*Client]struct{}),
		byChat:     make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		identify:   make(chan identifyRequest),
		join:       make(chan joinRequest),
		deliver:    make(chan delivery, hubChannelBuffer),
		stats:      make(chan chan Stats),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logx.Component("hub"),
	}

	go h.Run()

	return h
}

// Run is the hub's event loop. NewHub starts it.
func (h *Hub) Run() {
	defer func() {
		for client := range h.clients {
			close(client.send)
		}
		h.clients = nil
		close(h.done)
		h.logger.Info().Msg("Hub Run loop finished.")
	}()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.logger.Debug().Int("total_clients", len(h.clients)).Msg("Client connected.")

		case client := <-h.unregister:
			h.remove(client)

		case req := <-h.identify:
			if _, ok := h.clients[req.client]; !ok {
				continue
			}
			removeFrom(h.byUser, req.client)
			addTo(h.byUser, req.userID, req.client)
			h.logger.Info().Str("user_id", req.userID).Msg("Client identified.")
			h.sendTo(req.client, mustFrame(realtime.EventConnected, nil))

		case req := <-h.join:
			if _, ok := h.clients[req.client]; !ok {
				continue
			}
			addTo(h.byChat, req.chatID, req.client)

		case d := <-h.deliver:
			h.route(d)

		case reply := <-h.stats:
			reply <- Stats{Clients: len(h.clients), Users: len(h.byUser)}

		case <-h.stopChan:
			return
		}
	}
}

func addTo(index map[string]map[*Client]struct{}, key string, client *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]struct{})
		index[key] = set
	}
	set[client] = struct{}{}
}

func removeFrom(index map[string]map[*Client]struct{}, client *Client) {
	for key, set := range index {
		delete(set, client)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	removeFrom(h.byUser, client)
	removeFrom(h.byChat, client)
	close(client.send)
	h.logger.Debug().Int("total_clients", len(h.clients)).Msg("Client disconnected.")
}

func (h *Hub) route(d delivery) {
	switch {
	case d.to != nil:
		h.sendTo(d.to, d.frame)

	case d.userIDs != nil:
		sent := make(map[*Client]struct{})
		for _, userID := range d.userIDs {
			for client := range h.byUser[userID] {
				if client == d.except {
					continue
				}
				if _, dup := sent[client]; dup {
					continue
				}
				sent[client] = struct{}{}
				h.sendTo(client, d.frame)
			}
		}

	case d.chatID != "":
		if d.except != nil {
			if _, joined := h.byChat[d.chatID][d.except]; !joined {
				h.logger.Warn().Str("chat_id", d.chatID).Msg("Typing frame from a client outside the chat dropped.")
				return
			}
		}
		for client := range h.byChat[d.chatID] {
			if client != d.except {
				h.sendTo(client, d.frame)
			}
		}
	}
}

// sendTo queues frame for one client, dropping the client if its queue is full.
func (h *Hub) sendTo(client *Client, frame []byte) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- frame:
	default:
		client.logger.Warn().Msg("Client send channel full, unregistering.")
		h.remove(client)
	}
}

func mustFrame(event string, data any) []byte {
	frame, err := realtime.EncodeFrame(event, data)
	if err != nil {
		logx.Fatal(err, "Failed to encode hub frame", "event", event)
	}
	return frame
}

// post hands a request to the Run loop unless the hub has stopped.
func post[T any](h *Hub, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.done:
		return false
	}
}

// Register adds a freshly upgraded client.
func (h *Hub) Register(client *Client) bool {
	return post(h, h.register, client)
}

func (h *Hub) relay(d delivery) {
	post(h, h.deliver, d)
}

func (h *Hub) replyError(client *Client, customErr *errs.CustomError) {
	h.relay(delivery{
		to:    client,
		frame: mustFrame(realtime.EventError, ErrorPayload{Code: customErr.Code, Message: customErr.Message}),
	})
}

func (h *Hub) relayMessage(msg model.Message, recipients []string, except *Client) {
	h.relay(delivery{
		frame:   mustFrame(realtime.EventMessageReceived, msg),
		userIDs: recipients,
		except:  except,
	})
}

// Stats reports the current connection counts. It returns zero counts once the hub has stopped.
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	if !post(h, h.stats, reply) {
		return Stats{}
	}
	return <-reply
}

// Shutdown stops the Run loop and closes every client's send queue.
func (h *Hub) Shutdown() {
	h.logger.Info().Msg("Shutting down hub...")

	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}
	<-h.done

	h.logger.Info().Msg("Hub shutdown complete.")
}
