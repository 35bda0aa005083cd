package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	DefaultCity  string    `json:"default_city,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the verified (user id, display name) pair attached to every
// authenticated request and live connection. The core trusts it as given
// and never reads raw client-supplied ids.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
}

// Party identifies one side of an order. Snapshotted at order creation so
// later profile edits do not rewrite history.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SystemSenderID is the sentinel sender for machine-generated chat entries.
const SystemSenderID = "system"

// SystemParty is the sender recorded on system messages.
var SystemParty = Party{ID: SystemSenderID, Name: "System"}
