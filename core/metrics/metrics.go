package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Classboard metrics collectors
var (
	// Presence

	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classboard_heartbeats_total",
			Help: "Total number of whiteboard heartbeats recorded",
		},
		[]string{"source"},
	)

	PresenceTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classboard_presence_transitions_total",
			Help: "Total number of whiteboard presence transitions written",
		},
		[]string{"to", "reason"},
	)

	// Sweeper

	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classboard_sweep_runs_total",
			Help: "Total number of presence sweeper ticks",
		},
		[]string{"status"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classboard_sweep_duration_seconds",
			Help:    "Presence sweeper tick duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	SweepExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classboard_sweep_expired_total",
			Help: "Total number of whiteboards forced offline by the sweeper",
		},
	)

	// Authentication

	AuthRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classboard_auth_requests_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"scheme", "status"},
	)

	// Notifications

	EmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classboard_emits_total",
			Help: "Total number of notification events emitted",
		},
		[]string{"event", "status"},
	)

	ConnectedClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "classboard_connected_clients",
			Help: "Current number of push channel connections",
		},
		[]string{"kind"},
	)

	// HTTP

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classboard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classboard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)
