package models

// Message kinds.
const (
	MessageKindUser   = "user"
	MessageKindSystem = "system"
)

// Message is one chat entry in an order thread. IDs are ULIDs so the log
// sorts by creation time. Messages are append-only; only their per-recipient
// delivery and seen marks change after creation.
type Message struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	ListingID string `json:"listing_id,omitempty"` // set for pre-order chatter
	From      Party  `json:"from"`
	Body      string `json:"body"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"ts"` // unix ms
}

// IsSystem reports whether the message was appended by a state transition.
func (m *Message) IsSystem() bool {
	return m.Kind == MessageKindSystem || m.From.ID == SystemSenderID
}

// Ticks is the per-recipient acknowledgement state of one message.
// A seen mark implies a delivered mark; neither is ever unset.
type Ticks struct {
	DeliveredAt map[string]int64 `json:"delivered_at,omitempty"` // recipient id -> unix ms
	SeenAt      map[string]int64 `json:"seen_at,omitempty"`
}

// DeliveredBy reports whether userID has acknowledged delivery.
func (t Ticks) DeliveredBy(userID string) bool {
	_, ok := t.DeliveredAt[userID]
	return ok
}

// SeenBy reports whether userID has acknowledged seeing the message.
func (t Ticks) SeenBy(userID string) bool {
	_, ok := t.SeenAt[userID]
	return ok
}
