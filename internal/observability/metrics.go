package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eventrides"

// Assignment outcomes.
const (
	OutcomeAssigned    = "assigned"
	OutcomeEmpty       = "empty"
	OutcomeStale       = "stale"
	OutcomeMalformed   = "malformed"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "assignments_total", Help: "Dequeue attempts by outcome"},
		[]string{"outcome"},
	)
	AssignmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "assignment_latency_seconds",
		Help:      "Assignment transaction latency seconds",
		Buckets:   prometheus.DefBuckets,
	})
	ListenersAttached = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "listeners_attached_total", Help: "Remote listeners attached by entity kind"},
		[]string{"entity"},
	)
	SnapshotsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "snapshots_applied_total", Help: "Snapshots merged into entity caches"},
		[]string{"entity"},
	)
	SnapshotErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "snapshot_errors_total", Help: "Listener errors by entity kind"},
		[]string{"entity"},
	)
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_active", Help: "Signed-in sessions"})
	FeedClients    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "feed_clients", Help: "Connected websocket feed clients"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
