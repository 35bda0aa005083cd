package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/raghavao7/lossflip/internal/api/middleware"
	"github.com/raghavao7/lossflip/internal/chat"
	"github.com/raghavao7/lossflip/internal/escrow"
	"github.com/raghavao7/lossflip/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db     store.DataStore
	msgs   store.MessageStore
	escrow *escrow.Service
	chat   *chat.Service
	auth   *middleware.AuthMiddleware
}

// NewHandler creates a new Handler with the given stores and services.
func NewHandler(db store.DataStore, msgs store.MessageStore, esc *escrow.Service, ch *chat.Service, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{db: db, msgs: msgs, escrow: esc, chat: ch, auth: auth}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// ServiceError maps a rejected operation to its HTTP status.
func (h *Handler) ServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotMember):
		h.Error(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, chat.ErrUnknownOrder):
		h.Error(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, chat.ErrEmptyBody), errors.Is(err, chat.ErrBodyTooLong):
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrRateLimited):
		h.Error(w, http.StatusTooManyRequests, err.Error())
		return
	}

	switch escrow.KindOf(err) {
	case escrow.KindValidation:
		h.Error(w, http.StatusBadRequest, err.Error())
	case escrow.KindForbidden:
		h.Error(w, http.StatusForbidden, err.Error())
	case escrow.KindConflict:
		h.Error(w, http.StatusConflict, err.Error())
	case escrow.KindNotFound:
		h.Error(w, http.StatusNotFound, err.Error())
	default:
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 100 characters
	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	// Must be reasonable length and match RFC 5322 pattern
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
