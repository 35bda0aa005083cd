package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/raghavao7/lossflip/internal/api/middleware"
	"github.com/raghavao7/lossflip/internal/models"
)

// HistoryResponse is the thread transcript with per-message tick state.
type HistoryResponse struct {
	Messages []models.Message        `json:"messages"`
	Ticks    map[string]models.Ticks `json:"ticks"`
}

// History returns the order thread's messages in append order. Live
// delivery happens over the websocket; this endpoint backfills on open.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	orderID := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, ticks, err := h.chat.History(r.Context(), identity, orderID, limit)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	h.JSON(w, http.StatusOK, HistoryResponse{Messages: msgs, Ticks: ticks})
}
