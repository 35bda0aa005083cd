package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/raghavao7/lossflip/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// typingTTL is how long a typing indicator stays alive without a
	// follow-up signal before the stop event is synthesized.
	typingTTL = 2 * time.Second

	dispatchTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Dispatcher handles inbound session events that touch shared state. The
// session manager stays transport-only; the chat service implements this.
type Dispatcher interface {
	// Authorize reports whether actor may join the room for the given
	// order (or bare listing when orderID is empty).
	Authorize(ctx context.Context, actor models.Identity, orderID, listingID string) error

	// SendChat appends a user message and fans it out.
	SendChat(ctx context.Context, from models.Identity, listingID, orderID, body string) error

	// AckDelivered / AckSeen record tick marks for actor and fan the
	// acknowledgement out to the order room.
	AckDelivered(ctx context.Context, actor models.Identity, orderID string, msgIDs []string) error
	AckSeen(ctx context.Context, actor models.Identity, orderID string, msgIDs []string) error
}

// inboundFrame is the single wire shape for client -> server events.
// Unknown types are dropped.
type inboundFrame struct {
	Type       EventType `json:"type"`
	OrderID    string    `json:"order_id,omitempty"`
	ListingID  string    `json:"listing_id,omitempty"`
	Body       string    `json:"body,omitempty"`
	MessageIDs []string  `json:"message_ids,omitempty"`
	IsTyping   bool      `json:"is_typing,omitempty"`
}

// Client is one live connection: the middleman between the websocket and
// the hub. All of its state except the shared message log is
// connection-local and discarded on disconnect.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	identity   models.Identity
	dispatcher Dispatcher
	log        zerolog.Logger

	typingMu sync.Mutex
	typing   map[string]*time.Timer // order id -> expiry timer
}

// Handler upgrades HTTP requests to live sessions.
type Handler struct {
	hub        *Hub
	dispatcher Dispatcher
	identity   func(r *http.Request) (models.Identity, bool)
	log        zerolog.Logger
}

// NewHandler creates the websocket entry point. identityFn extracts the
// verified identity placed on the request by the auth middleware.
func NewHandler(hub *Hub, dispatcher Dispatcher, identityFn func(r *http.Request) (models.Identity, bool), log zerolog.Logger) *Handler {
	return &Handler{hub: hub, dispatcher: dispatcher, identity: identityFn, log: log.With().Str("component", "ws").Logger()}
}

// ServeHTTP upgrades the connection, binds the identity and starts the
// read/write pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(r)
	if !ok {
		http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	client := &Client{
		hub:        h.hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		identity:   identity,
		dispatcher: h.dispatcher,
		log:        h.log.With().Str("user_id", identity.UserID).Logger(),
		typing:     make(map[string]*time.Timer),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump pumps frames from the websocket to the dispatcher. One goroutine
// per connection; exits on read error and unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.stopTypingTimers()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("read error")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		c.handleFrame(frame)
	}
}

// handleFrame dispatches one inbound event. Failures are silent from the
// transport's perspective: a failed append never publishes, and the sender
// detects non-arrival by the absence of its own delivery ack.
func (c *Client) handleFrame(frame inboundFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	switch frame.Type {
	case EventChatJoin:
		if err := c.dispatcher.Authorize(ctx, c.identity, frame.OrderID, frame.ListingID); err != nil {
			c.log.Debug().Err(err).Str("order_id", frame.OrderID).Msg("join rejected")
			return
		}
		room := roomFor(frame.OrderID, frame.ListingID)
		if room == "" {
			return
		}
		c.hub.join <- subscription{client: c, room: room}
		c.reply(Event{Type: EventChatJoined, Data: JoinedPayload{Room: room}})

	case EventChatLeave:
		if room := roomFor(frame.OrderID, frame.ListingID); room != "" {
			c.hub.leave <- subscription{client: c, room: room}
		}

	case EventChatSend:
		if err := c.dispatcher.SendChat(ctx, c.identity, frame.ListingID, frame.OrderID, frame.Body); err != nil {
			c.log.Debug().Err(err).Str("order_id", frame.OrderID).Msg("chat send rejected")
		}

	case EventChatDelivered:
		if err := c.dispatcher.AckDelivered(ctx, c.identity, frame.OrderID, frame.MessageIDs); err != nil {
			c.log.Debug().Err(err).Msg("delivered ack failed")
		}

	case EventChatSeen:
		if err := c.dispatcher.AckSeen(ctx, c.identity, frame.OrderID, frame.MessageIDs); err != nil {
			c.log.Debug().Err(err).Msg("seen ack failed")
		}

	case EventTyping:
		c.handleTyping(frame)
	}
}

// handleTyping publishes the ephemeral indicator and arms an expiry timer
// so a vanished "stopped typing" signal cannot leave the indicator stuck.
func (c *Client) handleTyping(frame inboundFrame) {
	if frame.OrderID == "" {
		return
	}
	from := models.Party{ID: c.identity.UserID, Name: c.identity.Name}
	c.hub.Publish(OrderRoom(frame.OrderID), Event{
		Type: EventTyping,
		Data: TypingPayload{OrderID: frame.OrderID, From: from, IsTyping: frame.IsTyping},
	})

	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if t, ok := c.typing[frame.OrderID]; ok {
		t.Stop()
		delete(c.typing, frame.OrderID)
	}
	if frame.IsTyping {
		orderID := frame.OrderID
		c.typing[orderID] = time.AfterFunc(typingTTL, func() {
			c.hub.Publish(OrderRoom(orderID), Event{
				Type: EventTyping,
				Data: TypingPayload{OrderID: orderID, From: from, IsTyping: false},
			})
			c.typingMu.Lock()
			delete(c.typing, orderID)
			c.typingMu.Unlock()
		})
	}
}

func (c *Client) stopTypingTimers() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	for id, t := range c.typing {
		t.Stop()
		delete(c.typing, id)
	}
}

// reply queues an event for this connection only.
func (c *Client) reply(ev Event) {
	payload, err := ev.Encode()
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// writePump pumps queued payloads to the websocket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func roomFor(orderID, listingID string) string {
	if orderID != "" {
		return OrderRoom(orderID)
	}
	if listingID != "" {
		return ListingRoom(listingID)
	}
	return ""
}
