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
	"github.com/raghavao7/lossflip/internal/store"
)

// CreateListingRequest is the listing creation payload. Deal price is the
// asking amount per unit; face value is optional and only drives the
// displayed discount.
type CreateListingRequest struct {
	Title          string          `json:"title"`
	Category       string          `json:"category"`
	FaceValue      decimal.Decimal `json:"face_value"`
	DealPrice      decimal.Decimal `json:"deal_price"`
	Description    string          `json:"description"`
	EscrowRequired *bool           `json:"escrow_required"`
	Stock          int             `json:"stock"`
	Location       models.Location `json:"location"`
	Images         []string        `json:"images"`
	DigitalSecret  string          `json:"digital_secret"`
}

// CreateListing handles listing creation by the authenticated seller.
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	var req CreateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Title = sanitizeName(req.Title)
	if req.Title == "" {
		h.Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if !models.ValidCategory(req.Category) {
		h.Error(w, http.StatusBadRequest, "unknown category")
		return
	}
	if req.DealPrice.LessThanOrEqual(decimal.Zero) {
		h.Error(w, http.StatusBadRequest, "deal_price must be > 0")
		return
	}
	if req.Stock < 0 {
		h.Error(w, http.StatusBadRequest, "stock must be >= 0")
		return
	}
	if req.Stock == 0 {
		req.Stock = 1
	}
	escrowRequired := true
	if req.EscrowRequired != nil {
		escrowRequired = *req.EscrowRequired
	}

	listing := &models.Listing{
		Seller:         models.Party{ID: identity.UserID, Name: identity.Name},
		Title:          req.Title,
		Category:       req.Category,
		FaceValue:      req.FaceValue,
		DealPrice:      req.DealPrice,
		Description:    req.Description,
		EscrowRequired: escrowRequired,
		Stock:          req.Stock,
		Location:       req.Location,
		Images:         req.Images,
		DigitalSecret:  req.DigitalSecret,
	}
	if err := h.db.CreateListing(r.Context(), listing); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create listing")
		return
	}

	h.JSON(w, http.StatusCreated, listing)
}

// ListListings returns recent listings, optionally filtered by city or
// pincode. Digital secrets are stripped for everyone but the owner.
func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	listings, err := h.db.ListListings(r.Context(), store.ListingFilter{
		City:    r.URL.Query().Get("city"),
		Pincode: r.URL.Query().Get("pincode"),
		Limit:   limit,
	})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list listings")
		return
	}

	out := make([]*models.Listing, len(listings))
	for i := range listings {
		out[i] = listings[i].Redacted(identity.UserID)
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"listings": out})
}

// GetListing returns a single listing.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid listing id")
		return
	}
	listing, err := h.db.GetListing(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusNotFound, "listing not found")
		return
	}
	h.JSON(w, http.StatusOK, listing.Redacted(identity.UserID))
}

// RestockRequest is the restock payload.
type RestockRequest struct {
	Amount int `json:"amount"`
}

// Restock adds stock to the caller's listing.
func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	var req RestockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	listing, err := h.escrow.Restock(r.Context(), identity, id, req.Amount)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, listing)
}
