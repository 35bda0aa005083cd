package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Listing categories.
const (
	CategoryProduct  = "product"
	CategoryService  = "service"
	CategoryTicket   = "ticket"
	CategoryGiftcard = "giftcard"
)

// ValidCategory reports whether c is one of the known listing categories.
func ValidCategory(c string) bool {
	switch c {
	case CategoryProduct, CategoryService, CategoryTicket, CategoryGiftcard:
		return true
	}
	return false
}

// Location is an optional coarse location for listing filters.
type Location struct {
	City    string `json:"city,omitempty"`
	Area    string `json:"area,omitempty"`
	Pincode string `json:"pincode,omitempty"`
}

// Listing is a sellable item or service. DigitalSecret is visible only to
// the owning seller; buyers receive it as the order delivery payload once
// an order against the listing is paid.
type Listing struct {
	ID             uuid.UUID       `json:"id"`
	Seller         Party           `json:"seller"`
	Title          string          `json:"title"`
	Category       string          `json:"category"`
	FaceValue      decimal.Decimal `json:"face_value"`
	DealPrice      decimal.Decimal `json:"deal_price"`
	Description    string          `json:"description,omitempty"`
	EscrowRequired bool            `json:"escrow_required"`
	Stock          int             `json:"stock"`
	Location       Location        `json:"location"`
	Images         []string        `json:"images,omitempty"`
	DigitalSecret  string          `json:"digital_secret,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DiscountPct computes the discount against face value as a whole percentage,
// floored at zero. Listings without a face value report no discount.
func (l *Listing) DiscountPct() int {
	if l.FaceValue.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	pct := decimal.NewFromInt(1).
		Sub(l.DealPrice.Div(l.FaceValue)).
		Mul(decimal.NewFromInt(100)).
		Round(0)
	if pct.IsNegative() {
		return 0
	}
	return int(pct.IntPart())
}

// Redacted returns a copy safe to serialize to viewerID. The digital secret
// is stripped for everyone but the owning seller.
func (l *Listing) Redacted(viewerID string) *Listing {
	c := *l
	if l.Seller.ID != viewerID {
		c.DigitalSecret = ""
	}
	return &c
}

// ListingSummary is the lightweight listing shape attached to thread and
// admin order listings.
type ListingSummary struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Seller   Party     `json:"seller"`
}

// Summary returns the lightweight shape of the listing.
func (l *Listing) Summary() ListingSummary {
	return ListingSummary{ID: l.ID, Title: l.Title, Category: l.Category, Seller: l.Seller}
}
