package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openclaw_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_agents_registered_total",
			Help: "Total API keys issued",
		},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_messages_sent_total",
			Help: "Total messages stored",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_messages_deleted_total",
			Help: "Total messages deleted by their sender",
		},
	)

	MessagesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_messages_expired_total",
			Help: "Total messages removed by the reclaimer",
		},
	)

	DecryptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_decrypt_failures_total",
			Help: "Stored messages that could not be decrypted",
		},
	)

	// Security metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_publish_failures_total",
			Help: "Inbox notifications that could not be published",
		},
	)

	StorageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openclaw_storage_latency_seconds",
			Help:    "Storage health check latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"backend"},
	)
)
