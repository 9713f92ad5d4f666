package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// NormalizationsTotal counts normalization runs per source
	NormalizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_normalizations_total",
			Help: "Total number of source normalization runs",
		},
		[]string{"source", "status"}, // status: success, error
	)

	// NormalizationDuration measures normalization duration in seconds
	NormalizationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nis_normalization_duration_seconds",
			Help:    "Source normalization duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"source"},
	)

	// FactsNormalized counts facts produced per source
	FactsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_facts_normalized_total",
			Help: "Total number of facts produced by normalization",
		},
		[]string{"source"},
	)

	// RecordsRejected counts records rejected per source
	RecordsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_records_rejected_total",
			Help: "Total number of source records rejected during normalization",
		},
		[]string{"source"},
	)

	// CacheHits counts cache hits
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"layer"}, // layer: memory, store
	)

	// CacheMisses counts cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nis_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheComputations counts compute function invocations
	CacheComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_cache_computations_total",
			Help: "Total number of cache compute invocations",
		},
		[]string{"status"}, // status: success, error
	)

	// CacheCorruptions counts persisted entries discarded as corrupt
	CacheCorruptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_cache_corruptions_total",
			Help: "Total number of corrupt cache entries treated as misses",
		},
		[]string{"backend"},
	)

	// EvaluationsTotal counts flow graph entity evaluations
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_evaluations_total",
			Help: "Total number of flow graph entity evaluations",
		},
		[]string{"graph", "status"}, // status: resolved, failed, cancelled
	)

	// EvaluationDuration measures entity evaluation time
	EvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nis_evaluation_duration_seconds",
			Help:    "Flow graph entity evaluation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
		[]string{"graph"},
	)

	// AggregationsTotal counts cube aggregation operations
	AggregationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_cube_aggregations_total",
			Help: "Total number of cube aggregation operations",
		},
		[]string{"cube", "function", "status"},
	)

	// TasksTotal counts refresh tasks processed by workers
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_tasks_total",
			Help: "Total number of tasks processed",
		},
		[]string{"source", "status"}, // status: success, failed
	)

	// TasksRunning tracks currently running tasks
	TasksRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nis_tasks_running",
			Help: "Number of currently running tasks",
		},
		[]string{"source", "worker"},
	)

	// TaskDuration measures task execution duration in seconds
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nis_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"source", "status"},
	)

	// TasksEnqueued counts total number of tasks enqueued
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"source", "trigger"}, // trigger: schedule, manual
	)

	// SchedulerLeader indicates whether this instance holds the scheduler lease
	SchedulerLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nis_scheduler_leader",
			Help: "Whether this instance is the scheduler leader (1=leader, 0=follower)",
		},
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nis_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordNormalization records one normalization run
func RecordNormalization(source, status string, facts, rejected int, duration time.Duration) {
	NormalizationsTotal.WithLabelValues(source, status).Inc()
	NormalizationDuration.WithLabelValues(source).Observe(duration.Seconds())
	FactsNormalized.WithLabelValues(source).Add(float64(facts))
	RecordsRejected.WithLabelValues(source).Add(float64(rejected))
}

// RecordCacheHit records a hit in the given layer
func RecordCacheHit(layer string) {
	CacheHits.WithLabelValues(layer).Inc()
}

// RecordCacheMiss records a miss in every layer
func RecordCacheMiss() {
	CacheMisses.Inc()
}

// RecordCacheCompute records a compute invocation
func RecordCacheCompute(status string) {
	CacheComputations.WithLabelValues(status).Inc()
}

// RecordCacheCorruption records a corrupt persisted entry
func RecordCacheCorruption(backend string) {
	CacheCorruptions.WithLabelValues(backend).Inc()
}

// RecordEvaluation records a flow graph evaluation
func RecordEvaluation(graph, status string, duration time.Duration) {
	EvaluationsTotal.WithLabelValues(graph, status).Inc()
	EvaluationDuration.WithLabelValues(graph).Observe(duration.Seconds())
}

// RecordAggregation records a cube aggregation
func RecordAggregation(cube, function, status string) {
	AggregationsTotal.WithLabelValues(cube, function, status).Inc()
}

// RecordTaskStart records the start of a task
func RecordTaskStart(source, worker string) {
	TasksRunning.WithLabelValues(source, worker).Inc()
}

// RecordTaskComplete records task completion
func RecordTaskComplete(source, worker, status string, duration float64) {
	TasksRunning.WithLabelValues(source, worker).Dec()
	TasksTotal.WithLabelValues(source, status).Inc()
	TaskDuration.WithLabelValues(source, status).Observe(duration)
}

// RecordTaskEnqueued records task enqueue
func RecordTaskEnqueued(source, trigger string) {
	TasksEnqueued.WithLabelValues(source, trigger).Inc()
}

// RecordSchedulerLeader records leadership changes
func RecordSchedulerLeader(leader bool) {
	if leader {
		SchedulerLeader.Set(1)
		return
	}

	SchedulerLeader.Set(0)
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
