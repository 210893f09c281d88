package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_users_registered_total",
			Help: "Total users registered",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"kind"}, // "text" or "media"
	)

	ReadReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_read_receipts_total",
			Help: "Total read receipts recorded",
		},
	)

	MediaCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_media_cleanup_failures_total",
			Help: "Stored media files that could not be removed after a failed write",
		},
	)

	// Realtime metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connected_clients",
			Help: "Open websocket connections",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Users with at least one live connection",
		},
	)

	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_emitted_total",
			Help: "Realtime events delivered to connections",
		},
		[]string{"event"},
	)

	DroppedClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_dropped_clients_total",
			Help: "Connections dropped because their send buffer was full",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
