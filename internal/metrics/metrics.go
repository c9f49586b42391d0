package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis dial errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Counter Cache Metrics
var (
	// CacheLookupsTotal tracks counter cache lookups by operation and result (hit/miss/error)
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_cache_lookups_total",
			Help: "Counter cache lookups by operation (read/read_raw/increment) and result (hit/miss/error)",
		},
		[]string{"operation", "result"},
	)

	// CacheRepopulationsTotal tracks cache population from the durable store by result
	CacheRepopulationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_cache_repopulations_total",
			Help: "Counter cache repopulations from the durable store by result (success/not_found/error)",
		},
		[]string{"result"},
	)
)

// Vote Metrics
var (
	// VotesTotal tracks votes by result
	VotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votes_total",
			Help: "Total votes by result (applied/unpropagated/not_found/out_of_range/error/already_voted/rate_limited)",
		},
		[]string{"result"},
	)

	// VoteDuration tracks end-to-end vote latency
	VoteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vote_duration_seconds",
			Help:    "Vote processing duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	// PollsCreatedTotal tracks successfully created polls
	PollsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "polls_created_total",
			Help: "Total polls created",
		},
	)
)

// Write-Behind Metrics
var (
	// DrainFlushesTotal tracks drainer flushes by result
	DrainFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drain_flushes_total",
			Help: "Total write-behind flushes by result (success/superseded/cache_miss/breaker_open/error)",
		},
		[]string{"result"},
	)

	// DrainFlushDuration tracks the time to read counts and overwrite them durably
	DrainFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drain_flush_duration_seconds",
			Help:    "Write-behind flush duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// DrainCoalescedIncrements tracks how many increments a single flush covered
	DrainCoalescedIncrements = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drain_coalesced_increments",
			Help:    "Number of increments coalesced into one flush",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// PendingMarksTotal tracks dirty marks added to the pending-write queue
	PendingMarksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pending_writes_marked_total",
			Help: "Total increments recorded in the pending-write queue",
		},
	)
)

// Fanout Metrics
var (
	// FanoutChannels tracks live fanout channels on this instance
	FanoutChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_channels",
			Help: "Number of live fanout channels",
		},
	)

	// FanoutViewers tracks attached viewers across all channels
	FanoutViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_viewers",
			Help: "Number of attached viewers across all fanout channels",
		},
	)

	// FanoutMessagesTotal tracks payloads relayed from the bus
	FanoutMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_messages_total",
			Help: "Total bus payloads relayed to fanout channels",
		},
	)

	// FanoutDroppedTotal tracks payloads dropped for a viewer whose send queue was full
	FanoutDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_dropped_total",
			Help: "Total payloads dropped for viewers with a full send queue",
		},
	)

	// FanoutRejectedTotal tracks attach attempts rejected by reason
	FanoutRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_rejected_total",
			Help: "Attach attempts rejected by reason (max_viewers/subscribe_error/stopped)",
		},
		[]string{"reason"},
	)

	// RegistryPanicsTotal tracks registry panic recoveries
	RegistryPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_panics_total",
			Help: "Total registry panic recoveries",
		},
	)

	// RegistryStopTimeoutsTotal tracks registry stops that exceeded timeout
	RegistryStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_stop_timeouts_total",
			Help: "Registry stops that exceeded timeout",
		},
	)

	// BusDroppedTotal tracks bus messages dropped because the subscriber fell behind
	BusDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_dropped_total",
			Help: "Total bus messages dropped because the local subscriber was slow",
		},
	)
)

// Liveness Metrics
var (
	// LivenessProbesTotal tracks ping probes sent to viewers
	LivenessProbesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liveness_probes_total",
			Help: "Total liveness pings sent to viewers",
		},
	)

	// LivenessEvictionsTotal tracks viewers evicted by reason
	LivenessEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveness_evictions_total",
			Help: "Viewers evicted by reason (unanswered/ping_failed/write_failed)",
		},
		[]string{"reason"},
	)

	// WebSocketMessageSendDuration tracks WebSocket message send duration
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// WebSocketConnectionDuration tracks how long viewers stay attached
	WebSocketConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_connection_duration_seconds",
			Help:    "WebSocket connection duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)
)

// Database Metrics
var (
	// DBQueryDuration tracks database query duration by query name
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	// DBErrorsTotal tracks database errors by query name
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total database errors by query",
		},
		[]string{"query"},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)

// HTTP Error Metrics
// Note: http_errors_total{type} is provided by internal/errors package
