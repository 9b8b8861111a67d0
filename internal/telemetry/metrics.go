package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_api_requests_total",
			Help: "Total number of API requests.",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calendar_api_request_duration_seconds",
			Help:    "Duration of API requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calendar_api_active_connections",
			Help: "Number of HTTP requests currently in flight.",
		},
	)

	APIWebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calendar_api_websocket_connections",
			Help: "Number of open event stream connections.",
		},
	)
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calendar_database_query_duration_seconds",
			Help:    "Duration of database queries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_database_errors_total",
			Help: "Total number of database errors.",
		},
		[]string{"operation", "error_type"},
	)

	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calendar_database_connections_active",
			Help: "Number of open database connections.",
		},
	)
)

// Plan metrics. Gauges describe the committed plan after the latest
// recompute; counters accumulate across recomputes.
var (
	PlanRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "calendar_plan_recompute_duration_seconds",
			Help:    "Duration of full plan recomputes.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	PlanBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "calendar_plan_blocks",
			Help: "Blocks in the committed plan by activity kind.",
		},
		[]string{"kind"},
	)

	PlanFreeMinutes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calendar_plan_free_minutes",
			Help: "Unallocated minutes left inside the working day.",
		},
	)

	PlanWarnings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calendar_plan_warnings",
			Help: "Warnings attached to the committed plan.",
		},
	)

	PlanUnplaceableTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calendar_plan_unplaceable_total",
			Help: "Recomputes that left at least one activity without a block.",
		},
	)
)

// Calendar sync metrics.
var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_sync_runs_total",
			Help: "Total number of CalDAV sync runs.",
		},
		[]string{"status"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "calendar_sync_duration_seconds",
			Help:    "Duration of CalDAV sync runs.",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_sync_events_total",
			Help: "Calendar events transferred during sync.",
		},
		[]string{"direction"},
	)
)

// Archive and cache metrics.
var (
	ArchiveWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calendar_archive_writes_total",
			Help: "Total number of schedule snapshots written to the archive.",
		},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calendar_cache_hits_total",
			Help: "Schedule cache hits.",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calendar_cache_misses_total",
			Help: "Schedule cache misses.",
		},
	)
)

// Leader election metrics.
var (
	LeaderElectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "calendar_leader_election_status",
			Help: "Whether this instance currently holds leadership (1) or not (0).",
		},
		[]string{"instance"},
	)

	LeaderElectionChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_leader_election_changes_total",
			Help: "Leadership acquisitions and losses.",
		},
		[]string{"instance", "change"},
	)
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
