package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/raghavao7/lossflip/internal/models"
)

// ErrNotFound is returned by lookups for ids that do not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInsufficientStock is returned by DecrementStock when the guarded
// update would drive stock negative.
var ErrInsufficientStock = errors.New("store: insufficient stock")

// ListingFilter narrows ListListings. Zero values match everything.
type ListingFilter struct {
	City    string
	Pincode string
	Limit   int
}

// OrderFilter narrows ListOrders for admin views.
type OrderFilter struct {
	State models.OrderState
	Limit int
}

// StateCount is one bucket of the admin orders-by-state aggregate.
type StateCount struct {
	State models.OrderState `json:"state"`
	Count int64             `json:"count"`
}

// DataStore is durable storage for users, listings and orders.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	Close()
	Ping(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// Listings
	CreateListing(ctx context.Context, l *models.Listing) error
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ListListings(ctx context.Context, f ListingFilter) ([]models.Listing, error)
	GetListingSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ListingSummary, error)

	// Stock. DecrementStock is a guarded compare-and-update: it fails with
	// ErrInsufficientStock instead of driving the counter negative.
	// Both return the stock value after the update.
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error)
	IncrementStock(ctx context.Context, id uuid.UUID, amount int) (int, error)

	// Orders
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindInitiatedOrder(ctx context.Context, listingID uuid.UUID, buyerID string) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	ListOrdersByParty(ctx context.Context, userID string, limit int) ([]models.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error)

	// Admin aggregates
	CountListings(ctx context.Context) (int64, error)
	CountActiveListings(ctx context.Context) (int64, error)
	CountOrders(ctx context.Context) (int64, error)
	CountOrdersByState(ctx context.Context) ([]StateCount, error)
}

// MessageStore is the append-only chat log with per-message, per-recipient
// delivery and seen marks. Backed by Redis.
type MessageStore interface {
	Close() error
	Ping(ctx context.Context) error

	// AddMessage appends a message, assigning a ULID and timestamp when
	// unset.
	AddMessage(ctx context.Context, msg *models.Message) error

	// OrderMessages returns the thread's messages in append order.
	OrderMessages(ctx context.Context, orderID string, limit int) ([]models.Message, error)

	// MarkDelivered and MarkSeen record acknowledgements for userID.
	// Marks are set at most once and only for message ids that exist in
	// the thread; the returned slice holds the ids newly marked. Seen
	// implies delivered.
	MarkDelivered(ctx context.Context, orderID string, msgIDs []string, userID string) ([]string, error)
	MarkSeen(ctx context.Context, orderID string, msgIDs []string, userID string) ([]string, error)

	// MessageTicks loads the acknowledgement state for a batch of ids.
	MessageTicks(ctx context.Context, orderID string, msgIDs []string) (map[string]models.Ticks, error)

	// Chat send rate limiting, windowed per sender.
	CheckRateLimit(ctx context.Context, userID string, limit int) (bool, error)
	IncrementRateLimit(ctx context.Context, userID string) error
}
