package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ADMIN HTTP SURFACE (the ops side-channel, not the replication path)
var (
	AdminHTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_http_requests_total",
		Help: "Total number of requests served by the admin HTTP surface",
	}, []string{"method", "endpoint", "status_code", "node"})

	AdminHTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admin_http_request_duration_seconds",
		Help:    "Admin HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"method", "endpoint", "node"})

	AdminHTTPErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_http_errors_total",
		Help: "Total number of admin HTTP requests that returned a 4xx/5xx status",
	}, []string{"method", "endpoint", "status_code", "error_type", "node"})
)

// 1. TRAFFIC (request volume)
var (
	RequestsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_total",
		Help: "Total number of requests handed to the outbound dispatcher",
	}, []string{"mode", "database", "node"})

	ResponsesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_responses_total",
		Help: "Total number of per-node responses received by a response manager",
	}, []string{"database", "from", "outcome"})

	TasksExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_tasks_total",
		Help: "Total number of tasks the inbound executor ran against the local database",
	}, []string{"database", "task_type"})
)

// 2. LATENCY (time to outcome)
var (
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_duration_seconds",
		Help:    "Time from the start of response collection to the dispatcher's final outcome",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"database", "outcome"})

	TaskExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "executor_task_duration_seconds",
		Help:    "Time the inbound executor spent inside Task.Execute",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"database", "task_type"})
)

// 3. ERRORS (failure rate)
var (
	DispatchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_errors_total",
		Help: "Total number of dispatch outcomes that were not a clean quorum success",
	}, []string{"database", "reason"})

	ExecutorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_errors_total",
		Help: "Total number of task executions that returned an error",
	}, []string{"database", "task_type"})

	UndoReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "undo_replays_total",
		Help: "Total number of undo records replayed on worker restart",
	}, []string{"database"})
)

// 4. SATURATION (resource / queue pressure)
var (
	RequestQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "executor_queue_depth",
		Help: "Number of requests currently buffered on a node's inbound request queue",
	}, []string{"database"})

	InFlightDispatches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_in_flight",
		Help: "Number of requests currently awaiting a response manager outcome",
	}, []string{"database"})
)

// === CLUSTER HEALTH ===

var (
	NodeAvailability = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "node_availability",
		Help: "Node availability as last probed by the membership prober (0=down, 1=up)",
	}, []string{"node"})

	QuorumShortfallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_shortfalls_total",
		Help: "Total number of dispatches that could not reach the required quorum",
	}, []string{"database", "quorum_type"})

	ResyncRoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resync_rounds_total",
		Help: "Total number of anti-entropy resync rounds the recovery coordinator ran",
	}, []string{"database"})
)
