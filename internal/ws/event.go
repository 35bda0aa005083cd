package ws

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/raghavao7/lossflip/internal/models"
)

// EventType names one event in the closed realtime protocol. Free-form
// event strings are not accepted on either direction of the wire.
type EventType string

const (
	// Server -> client
	EventChatJoined    EventType = "chat:joined"
	EventChatNew       EventType = "chat:new"
	EventChatDelivered EventType = "chat:delivered"
	EventChatSeen      EventType = "chat:seen"
	EventTyping        EventType = "typing"
	EventOrderUpdated  EventType = "order:updated"
	EventThreadNew     EventType = "thread:new"
	EventThreadUpdated EventType = "thread:updated"
	EventDealUpdated   EventType = "deal:updated"

	// Client -> server (inbound only)
	EventChatJoin  EventType = "chat:join"
	EventChatLeave EventType = "chat:leave"
	EventChatSend  EventType = "chat:send"
)

// Event is one outbound frame: a tagged type plus the minimal payload delta
// subscribers need. Payloads never carry a full re-fetch of server state.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Encode marshals the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// JoinedPayload acknowledges a room join.
type JoinedPayload struct {
	Room string `json:"room"`
}

// TickPayload carries delivery or seen acknowledgements for a batch of
// message ids within one order thread.
type TickPayload struct {
	OrderID    string   `json:"order_id"`
	MessageIDs []string `json:"message_ids"`
	UserID     string   `json:"user_id"`
}

// TypingPayload is the ephemeral typing indicator. Never persisted.
type TypingPayload struct {
	OrderID  string       `json:"order_id"`
	From     models.Party `json:"from"`
	IsTyping bool         `json:"is_typing"`
}

// OrderUpdatedPayload is the delta published after a successful order
// mutation.
type OrderUpdatedPayload struct {
	OrderID  string            `json:"order_id"`
	Amount   decimal.Decimal   `json:"amount"`
	Quantity int               `json:"quantity"`
	Fees     models.Fees       `json:"fees"`
	State    models.OrderState `json:"state"`
}

// ThreadNewPayload notifies a seller's inbox of a freshly grabbed thread.
type ThreadNewPayload struct {
	OrderID   string       `json:"order_id"`
	ListingID string       `json:"listing_id"`
	Buyer     models.Party `json:"buyer"`
}

// ThreadUpdatedPayload nudges a party's inbox that a thread changed.
type ThreadUpdatedPayload struct {
	OrderID string `json:"order_id"`
}

// DealUpdatedPayload signals listing-level changes such as stock moves.
type DealUpdatedPayload struct {
	ListingID string `json:"listing_id"`
	Stock     int    `json:"stock"`
}

// Room name construction. Rooms are ephemeral fan-out groups; membership
// lives only as long as the connection.

// UserRoom is the personal inbox room joined at registration.
func UserRoom(userID string) string { return "user:" + userID }

// OrderRoom is the per-thread chat room.
func OrderRoom(orderID string) string { return "order:" + orderID }

// ListingRoom is the per-listing broadcast room.
func ListingRoom(listingID string) string { return "listing:" + listingID }
