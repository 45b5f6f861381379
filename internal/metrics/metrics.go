package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection Registry Metrics
var (
	// ConnectionsCurrent tracks registered WebSocket connections on this instance
	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_connections_current",
			Help: "Current number of registered WebSocket connections",
		},
	)

	// UsersCurrent tracks users with at least one registered connection
	UsersCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_users_current",
			Help: "Current number of users with at least one live connection",
		},
	)

	// ConnectionsTotal tracks connection attempts by result
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_connections_total",
			Help: "Total connection attempts by result (accepted/replaced/rejected/throttled)",
		},
		[]string{"result"},
	)

	// DisconnectsTotal tracks removed connections by reason
	DisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_disconnects_total",
			Help: "Total connections removed by reason (client/write_failed/replaced/shutdown)",
		},
		[]string{"reason"},
	)

	// ConnectionDuration tracks how long connections stay registered
	ConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_connection_duration_seconds",
			Help:    "WebSocket connection lifetime in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600, 14400},
		},
	)

	// MessageSendDuration tracks a single guarded socket write
	MessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_message_send_duration_seconds",
			Help:    "Duration of one serialized socket write in seconds, including guard wait",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, 1, 5},
		},
	)

	// WriteFailures tracks socket writes that failed and evicted their connection
	WriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_write_failures_total",
			Help: "Total socket write failures (connection evicted)",
		},
	)

	// HeartbeatsTotal tracks heartbeat attempts by result
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_heartbeats_total",
			Help: "Total heartbeat pings by result (sent/failed)",
		},
		[]string{"result"},
	)

	// ControlFramesTotal tracks client control frames by result
	ControlFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_control_frames_total",
			Help: "Client control frames by result (applied/unknown_notification/not_visible/malformed)",
		},
		[]string{"result"},
	)
)

// Notification Metrics
var (
	// NotificationsDispatched tracks dispatched notifications by type
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total notifications dispatched by type",
		},
		[]string{"type"},
	)

	// NotificationDeliveries tracks per-connection delivery outcomes
	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Per-connection notification deliveries by result (delivered/failed)",
		},
		[]string{"result"},
	)

	// NotificationHistorySize tracks retained notifications
	NotificationHistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_history_entries",
			Help: "Current number of notifications held in the in-process history",
		},
	)

	// NotificationHistoryEvictions tracks notifications dropped by the retention limit
	NotificationHistoryEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_history_evictions_total",
			Help: "Total notifications evicted by the history retention limit",
		},
	)

	// ArchiveOpsTotal tracks archive writes by operation and status
	ArchiveOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_archive_operations_total",
			Help: "Notification archive operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// ArchiveQueueDropped tracks archive jobs dropped because the queue was full
	ArchiveQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_archive_queue_dropped_total",
			Help: "Archive jobs dropped because the archive queue was full",
		},
	)
)

// Workflow Metrics
var (
	// WorkflowTransitions tracks stock request transitions by kind and result
	WorkflowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Stock request transitions by transition and result (applied/not_found/invalid_state)",
		},
		[]string{"transition", "result"},
	)

	// WorkflowDispatchFailures tracks notifications that could not be dispatched
	WorkflowDispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_dispatch_failures_total",
			Help: "Workflow notification dispatch failures by reason (error/panic)",
		},
		[]string{"reason"},
	)

	// WorkflowRequestsCurrent tracks requests per status
	WorkflowRequestsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workflow_requests_current",
			Help: "Stock requests held in memory by status",
		},
		[]string{"status"},
	)
)

// Redis Metrics
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

	// RelayPublishTotal tracks relay publishes by result
	RelayPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_publish_total",
			Help: "Notification relay publishes by result (published/unheard/fallback)",
		},
		[]string{"result"},
	)

	// RelayMessagesReceived tracks relayed envelopes by result
	RelayMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Relayed notification envelopes received by result (dispatched/malformed/error)",
		},
		[]string{"result"},
	)

	// RelaySubscriptionActive is 1 while the relay subscription is receiving
	RelaySubscriptionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscription_active",
			Help: "1 if the relay subscription is active, 0 if disconnected",
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
// Note: http_errors_total{type} is provided by internal/adapter/httpserver
