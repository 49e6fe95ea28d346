package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatch metrics
	DispatchesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_started_total",
			Help: "Total number of dispatch workflows started",
		},
		[]string{"route"},
	)

	DispatchesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_completed_total",
			Help: "Total number of dispatch workflows completed",
		},
		[]string{"route", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_request_duration_seconds",
			Help:    "Dispatch workflow duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	PlanSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_plan_subtasks",
			Help:    "Number of subtasks per committed execution plan",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// Resolution metrics
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_resolutions_total",
			Help: "Total number of symbol resolution attempts",
		},
		[]string{"market", "rule", "outcome"},
	)

	ResolutionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_resolution_latency_seconds",
			Help:    "Latency of universal resolution per query",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	// Classification oracle metrics
	ClassificationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_classification_calls_total",
			Help: "Total number of classification oracle calls",
		},
		[]string{"decision"},
	)

	ClassificationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_classification_errors_total",
			Help: "Total number of classification oracle failures",
		},
	)

	ClassificationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_classification_latency_seconds",
			Help:    "Classification oracle call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_agent_executions_total",
			Help: "Total number of agent executions",
		},
		[]string{"agent_id", "quality"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_agent_execution_duration_ms",
			Help:    "Agent execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"agent_id"},
	)

	// Tool metrics
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_tool_invocations_total",
			Help: "Total number of tool handler invocations",
		},
		[]string{"tool", "status"},
	)

	ToolAccessDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_tool_access_denied_total",
			Help: "Total number of tool lookups rejected by the access list",
		},
		[]string{"tool", "agent_id"},
	)

	// Reference data metrics
	RefdataRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_refdata_refreshes_total",
			Help: "Total number of reference data refresh attempts",
		},
		[]string{"market", "status"},
	)

	RefdataSnapshotSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_refdata_snapshot_entries",
			Help: "Number of entries in the current reference data snapshot",
		},
		[]string{"market"},
	)

	RefdataStaleServes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_refdata_stale_serves_total",
			Help: "Times a stale snapshot was served while a refresh was pending or failed",
		},
		[]string{"market"},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_session_cache_size",
			Help: "Number of sessions held in the local cache",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_circuit_breaker_requests_total",
			Help: "Requests observed by circuit breakers",
		},
		[]string{"name", "service", "status"},
	)
)
