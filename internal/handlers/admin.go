package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/raghavao7/lossflip/internal/models"
	"github.com/raghavao7/lossflip/internal/store"
)

// StatsResponse is the operator dashboard summary.
type StatsResponse struct {
	Listings       int64            `json:"listings"`
	ActiveListings int64            `json:"active_listings"`
	Orders         int64            `json:"orders"`
	OrdersByState  map[string]int64 `json:"orders_by_state"`
}

// Stats returns marketplace totals for the operator dashboard.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	listings, err := h.db.CountListings(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count listings")
		return
	}
	active, err := h.db.CountActiveListings(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count listings")
		return
	}
	orders, err := h.db.CountOrders(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count orders")
		return
	}
	counts, err := h.db.CountOrdersByState(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count orders")
		return
	}

	byState := make(map[string]int64, len(counts))
	for _, c := range counts {
		byState[string(c.State)] = c.Count
	}
	h.JSON(w, http.StatusOK, StatsResponse{
		Listings:       listings,
		ActiveListings: active,
		Orders:         orders,
		OrdersByState:  byState,
	})
}

// AdminOrders lists orders for dispute review, optionally filtered by state.
func (h *Handler) AdminOrders(w http.ResponseWriter, r *http.Request) {
	state := models.OrderState(r.URL.Query().Get("state"))
	if state != "" && !models.ValidState(state) {
		h.Error(w, http.StatusBadRequest, "unknown order state")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	orders, err := h.db.ListOrders(r.Context(), store.OrderFilter{State: state, Limit: limit})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ListingID)
	}
	summaries, err := h.db.GetListingSummaries(r.Context(), ids)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load listings")
		return
	}

	out := make([]models.OrderWithListing, len(orders))
	for i, o := range orders {
		out[i] = models.OrderWithListing{Order: o}
		if sum, ok := summaries[o.ListingID]; ok {
			out[i].Listing = &sum
		}
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"orders": out})
}

// Transcript returns an order with its full message log for dispute review.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.db.GetOrder(r.Context(), orderID)
	if err != nil {
		h.Error(w, http.StatusNotFound, "order not found")
		return
	}

	msgs, err := h.msgs.OrderMessages(r.Context(), orderID.String(), 0)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	ticks, err := h.msgs.MessageTicks(r.Context(), orderID.String(), ids)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load ticks")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"order":    order,
		"messages": msgs,
		"ticks":    ticks,
	})
}
