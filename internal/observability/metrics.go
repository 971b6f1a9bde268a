package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., heimdall_...).
const namespace = "heimdall"

// networkBuckets covers remote calls from a few milliseconds up to the request timeout.
var networkBuckets = []float64{.005, .010, .025, .050, .100, .250, .500, 1, 2.5, 5, 10}

var (
	// -------------------------------------------------------------------------
	// FLAGS (resolve + evaluation)
	// -------------------------------------------------------------------------

	// FlagResolveTotal counts resolve calls by outcome (resolved, not_modified, error).
	// Metric: heimdall_flags_resolve_total
	FlagResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "resolve_total",
		Help:      "Total resolve calls by outcome",
	}, []string{"outcome"})

	// FlagResolveDuration measures resolve round trips, including NotModified answers.
	FlagResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "resolve_duration_seconds",
		Help:      "Latency of resolve calls",
		Buckets:   networkBuckets,
	})

	// FlagEvaluationsTotal counts evaluations by reported reason.
	// Metric: heimdall_flags_evaluations_total
	FlagEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "evaluations_total",
		Help:      "Total flag evaluations by reason",
	}, []string{"reason"})

	// -------------------------------------------------------------------------
	// APPLY (exposure tracking)
	// -------------------------------------------------------------------------

	// ApplyCallsTotal counts apply network calls by outcome (success, failure).
	// Metric: heimdall_apply_calls_total
	ApplyCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "apply",
		Name:      "calls_total",
		Help:      "Total apply calls by outcome",
	}, []string{"outcome"})

	// ApplyPendingEntries tracks entries not yet acknowledged by the backend.
	ApplyPendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "apply",
		Name:      "pending_entries",
		Help:      "Current number of CREATED or SENDING apply entries",
	})

	// -------------------------------------------------------------------------
	// EVENTS (storage + upload)
	// -------------------------------------------------------------------------

	// EventsEmittedTotal counts events appended to storage.
	// Metric: heimdall_events_emitted_total
	EventsEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Total events appended to the open segment",
	})

	EventsSegmentsSealedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "segments_sealed_total",
		Help:      "Total segments sealed for upload",
	})

	// EventsUploadsTotal counts segment uploads by outcome (success, failure).
	EventsUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "uploads_total",
		Help:      "Total segment uploads by outcome",
	}, []string{"outcome"})

	EventsUploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "upload_duration_seconds",
		Help:      "Latency of segment uploads",
		Buckets:   networkBuckets,
	})

	// EventsSealedBacklog is the number of sealed segments waiting on disk.
	EventsSealedBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "sealed_backlog",
		Help:      "Current number of sealed segments awaiting upload",
	})

	// -------------------------------------------------------------------------
	// IN-MEMORY CACHES (otter)
	// -------------------------------------------------------------------------

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total in-memory cache hits",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total in-memory cache misses",
	}, []string{"cache"})

	// CacheDropped tracks writes rejected by otter under contention.
	CacheDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "dropped_total",
		Help:      "Total sets dropped by the in-memory cache",
	}, []string{"cache"})

	CacheItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "items_count",
		Help:      "Current number of items in the in-memory cache",
	}, []string{"cache"})

	// -------------------------------------------------------------------------
	// BACKING SERVICES (pool monitors)
	// -------------------------------------------------------------------------

	// DBPoolConns tracks pgx pool connections by state (total, idle, in_use, max).
	// Metric: heimdall_database_pool_connections
	DBPoolConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Current pgx pool connections by state",
	}, []string{"state"})

	// DBPoolAcquireCount mirrors the cumulative acquire count reported by pgx.
	DBPoolAcquireCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count",
		Help:      "Cumulative successful connection acquisitions",
	})

	DBPoolAcquireDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds",
		Help:      "Cumulative time spent acquiring connections",
	})

	// RedisPoolConns tracks go-redis pool connections by state (total, idle, stale).
	RedisPoolConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_connections",
		Help:      "Current go-redis pool connections by state",
	}, []string{"state"})

	// RedisPoolStats mirrors cumulative pool counters (hits, misses, timeouts).
	RedisPoolStats = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_stats",
		Help:      "Cumulative go-redis pool counters",
	}, []string{"stat"})

	// -------------------------------------------------------------------------
	// AGENT (local HTTP API)
	// -------------------------------------------------------------------------

	// AgentReqDuration measures the latency of agent HTTP requests.
	// Metric: heimdall_agent_http_handling_seconds
	AgentReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle agent HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	AgentReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "http_requests_total",
		Help:      "Total agent HTTP requests",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// SYNCER (background refresh)
	// -------------------------------------------------------------------------

	SyncerCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "cycles_total",
		Help:      "Total refresh cycles by status",
	}, []string{"status"}) // success, fail
)
