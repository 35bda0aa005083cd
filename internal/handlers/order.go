package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raghavao7/lossflip/internal/api/middleware"
	"github.com/raghavao7/lossflip/internal/models"
)

// Grab opens (or returns) the caller's thread against a listing.
func (h *Handler) Grab(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	listingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	order, created, err := h.escrow.Grab(r.Context(), identity, listingID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.JSON(w, status, order.RedactedForViewer(identity.UserID))
}

// QuantityRequest is the quantity change payload.
type QuantityRequest struct {
	Quantity int `json:"quantity"`
}

// ChangeQuantity updates the unit count on an open order.
func (h *Handler) ChangeQuantity(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req QuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := h.escrow.ChangeQuantity(r.Context(), identity, orderID, req.Quantity)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, order.RedactedForViewer(identity.UserID))
}

// ProposeRequest is the seller's renegotiation payload.
type ProposeRequest struct {
	ListingID string          `json:"listing_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// ProposeAmount lets the seller counter the per-unit amount on an open
// escrow order.
func (h *Handler) ProposeAmount(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	order, err := h.escrow.ProposeAmount(r.Context(), identity, listingID, orderID, req.Amount)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, order.RedactedForViewer(identity.UserID))
}

// Accept commits the buyer's funds to escrow.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.escrow.Accept(r.Context(), identity, orderID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, order)
}

// Release hands the held funds to the seller.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.escrow.Release(r.Context(), identity, orderID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, order)
}

// ReportRequest is the fraud report payload.
type ReportRequest struct {
	Reason string   `json:"reason"`
	Proofs []string `json:"proofs"`
}

// ReportFraud flags a paid order as disputed.
func (h *Handler) ReportFraud(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := h.escrow.ReportFraud(r.Context(), identity, orderID, req.Reason, req.Proofs)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, order)
}

// GetOrder returns a single order to one of its participants.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

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
	if !order.IsParticipant(identity.UserID) {
		h.Error(w, http.StatusForbidden, "not a participant of this order")
		return
	}
	h.JSON(w, http.StatusOK, order.RedactedForViewer(identity.UserID))
}

// Threads returns the caller's orders on both sides of the table, newest
// activity first, each paired with its listing summary.
func (h *Handler) Threads(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := h.db.ListOrdersByParty(r.Context(), identity.UserID, limit)
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

	threads := make([]models.OrderWithListing, len(orders))
	for i, o := range orders {
		redacted := o.RedactedForViewer(identity.UserID)
		threads[i] = models.OrderWithListing{Order: *redacted}
		if sum, ok := summaries[o.ListingID]; ok {
			threads[i].Listing = &sum
		}
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"threads": threads})
}
