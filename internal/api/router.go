package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/raghavao7/lossflip/internal/api/middleware"
	"github.com/raghavao7/lossflip/internal/chat"
	"github.com/raghavao7/lossflip/internal/config"
	"github.com/raghavao7/lossflip/internal/escrow"
	"github.com/raghavao7/lossflip/internal/handlers"
	"github.com/raghavao7/lossflip/internal/store"
	"github.com/raghavao7/lossflip/internal/ws"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg *config.Config, db store.DataStore, msgs store.MessageStore, hub *ws.Hub) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // 64KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - the browser client lives on its own origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.ClientOrigin},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Services, handler and auth middleware
	auth := middleware.NewAuthMiddleware(cfg.JWTSecret)
	escrowSvc := escrow.NewService(db, msgs, hub, logger)
	chatSvc := chat.NewService(db, msgs, hub, logger)
	h := handlers.NewHandler(db, msgs, escrowSvc, chatSvc, auth)
	wsHandler := ws.NewHandler(hub, chatSvc, auth.IdentityFromRequest, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Get("/listings", h.ListListings)
	r.Get("/listings/{id}", h.GetListing)

	// Live sessions authenticate via the token query parameter
	r.Handle("/ws", wsHandler)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/me", h.Me)
		r.Post("/listings", h.CreateListing)
		r.Post("/listings/{id}/restock", h.Restock)
		r.Post("/listings/{id}/grab", h.Grab)

		r.Get("/orders", h.Threads)
		r.Get("/orders/{id}", h.GetOrder)
		r.Patch("/orders/{id}/quantity", h.ChangeQuantity)
		r.Post("/orders/{id}/propose", h.ProposeAmount)
		r.Post("/orders/{id}/accept", h.Accept)
		r.Post("/orders/{id}/release", h.Release)
		r.Post("/orders/{id}/report", h.ReportFraud)
		r.Get("/orders/{id}/messages", h.History)
	})

	// Operator routes (shared key header)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminKey(cfg.AdminKey))

		r.Get("/admin/stats", h.Stats)
		r.Get("/admin/orders", h.AdminOrders)
		r.Get("/admin/orders/{id}/transcript", h.Transcript)
	})

	return r
}
