package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle state of a negotiation-and-payment thread.
type OrderState string

const (
	StateInitiated OrderState = "initiated"
	StatePaidHeld  OrderState = "paid_held"
	StateReleased  OrderState = "released"
	StateInDispute OrderState = "in_dispute"
)

// ValidState reports whether s is a known order state.
func ValidState(s OrderState) bool {
	switch s {
	case StateInitiated, StatePaidHeld, StateReleased, StateInDispute:
		return true
	}
	return false
}

// Terminal reports whether the state accepts no further transitions.
func (s OrderState) Terminal() bool {
	return s == StateReleased || s == StateInDispute
}

// Fees is the symmetric buyer/seller fee pair computed from the order total.
type Fees struct {
	BuyerFee  decimal.Decimal `json:"buyer_fee"`
	SellerFee decimal.Decimal `json:"seller_fee"`
}

// Dispute holds the buyer's fraud report.
type Dispute struct {
	Reason string   `json:"reason,omitempty"`
	Proofs []string `json:"proofs,omitempty"`
}

// Delivery carries the listing secret released to the buyer post-payment.
type Delivery struct {
	Payload     string     `json:"payload,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// Order is one buyer-seller thread against a listing. Orders are never
// deleted; terminal states are retained for audit and dispute review.
type Order struct {
	ID        uuid.UUID       `json:"id"`
	ListingID uuid.UUID       `json:"listing_id"`
	Seller    Party           `json:"seller"`
	Buyer     Party           `json:"buyer"`
	Amount    decimal.Decimal `json:"amount"` // per-unit agreed amount
	Quantity  int             `json:"quantity"`
	Fees      Fees            `json:"fees"`
	State     OrderState      `json:"state"`
	Dispute   Dispute         `json:"dispute"`
	Delivery  Delivery        `json:"delivery"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total is the full amount held in escrow: per-unit amount times quantity.
func (o *Order) Total() decimal.Decimal {
	return o.Amount.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

// IsParticipant reports whether userID is the buyer or the seller.
func (o *Order) IsParticipant(userID string) bool {
	return o.Buyer.ID == userID || o.Seller.ID == userID
}

// Counterpart returns the other party of the thread relative to userID.
func (o *Order) Counterpart(userID string) Party {
	if o.Buyer.ID == userID {
		return o.Seller
	}
	return o.Buyer
}

// RedactedForViewer strips the delivery payload from orders that have not
// reached a paid state, unless the viewer is the seller who owns the secret.
func (o *Order) RedactedForViewer(viewerID string) *Order {
	c := *o
	if o.State == StateInitiated && o.Seller.ID != viewerID {
		c.Delivery.Payload = ""
	}
	return &c
}

// OrderWithListing pairs an order with its listing summary for thread lists
// and admin views.
type OrderWithListing struct {
	Order
	Listing *ListingSummary `json:"listing,omitempty"`
}
