package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lossflip_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lossflip_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	OrderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lossflip_order_transitions_total",
			Help: "Order state machine transitions applied",
		},
		[]string{"transition"}, // grab, propose, accept, release, report
	)

	OrderRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lossflip_order_rejections_total",
			Help: "Order operations rejected by a guard",
		},
		[]string{"kind"}, // validation, forbidden, conflict, not_found
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lossflip_chat_messages_total",
			Help: "Chat messages appended",
		},
		[]string{"kind"}, // user, system
	)

	TickAcksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lossflip_chat_tick_acks_total",
			Help: "Delivery/seen acknowledgements recorded",
		},
		[]string{"kind"}, // delivered, seen
	)

	// Realtime metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lossflip_ws_connections",
			Help: "Currently registered websocket connections",
		},
	)

	WSEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lossflip_ws_events_published_total",
			Help: "Events fanned out to rooms",
		},
		[]string{"type"},
	)

	WSDroppedClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lossflip_ws_dropped_clients_total",
			Help: "Clients dropped because their send buffer overflowed",
		},
	)
)
