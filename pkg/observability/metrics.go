package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// PipelineRunsTotal counts pipeline runs by trigger and final status
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chfs_pipeline_runs_total",
			Help: "Total number of feature pipeline runs",
		},
		[]string{"trigger", "status"}, // trigger: manual, schedule, api; status: success, failed
	)

	// PipelineDuration measures end-to-end pipeline duration in seconds
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chfs_pipeline_duration_seconds",
			Help:    "Feature pipeline run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~7m
		},
		[]string{"status"},
	)

	// PipelineRunning is 1 while a pipeline run is in progress
	PipelineRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chfs_pipeline_running",
			Help: "Number of pipeline runs currently in progress",
		},
	)

	// StageDuration measures stage execution time
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chfs_stage_duration_seconds",
			Help:    "Pipeline stage execution time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
		},
		[]string{"stage", "status"},
	)

	// RowsProcessed counts rows flowing through each stage
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chfs_rows_processed_total",
			Help: "Total number of rows processed by pipeline stages",
		},
		[]string{"stage"},
	)

	// SplitRows counts rows assigned to each split
	SplitRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chfs_split_rows_total",
			Help: "Total number of rows assigned to each split",
		},
		[]string{"split"},
	)

	// ClickHouseQueries counts total number of ClickHouse queries executed
	ClickHouseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chfs_clickhouse_queries_total",
			Help: "Total number of ClickHouse queries executed",
		},
		[]string{"query_type", "status"}, // query_type: select, insert, ddl, other
	)

	// ClickHouseQueryDuration measures ClickHouse query execution time
	ClickHouseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chfs_clickhouse_query_duration_seconds",
			Help:    "ClickHouse query execution time",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"query_type"},
	)

	// OnlineLookups counts online store lookups by result
	OnlineLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chfs_online_lookups_total",
			Help: "Total number of online feature lookups",
		},
		[]string{"table", "result"}, // result: hit, miss, error
	)

	// FunctionEvaluations counts on-demand function evaluations
	FunctionEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chfs_function_evaluations_total",
			Help: "Total number of on-demand function evaluations",
		},
		[]string{"function", "status"},
	)

	// TasksEnqueued counts total number of tasks enqueued
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chfs_tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"task", "trigger"},
	)

	// APIRequestDuration measures API request handling time by route
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chfs_api_request_duration_seconds",
			Help:    "API request handling time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"method", "route", "status"},
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chfs_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordPipelineStart records the start of a pipeline run
func RecordPipelineStart() {
	PipelineRunning.Inc()
}

// RecordPipelineComplete records pipeline completion
func RecordPipelineComplete(trigger, status string, duration float64) {
	PipelineRunning.Dec()
	PipelineRunsTotal.WithLabelValues(trigger, status).Inc()
	PipelineDuration.WithLabelValues(status).Observe(duration)
}

// RecordStage records a single stage execution
func RecordStage(stage, status string, duration float64, rows int) {
	StageDuration.WithLabelValues(stage, status).Observe(duration)

	if rows > 0 {
		RowsProcessed.WithLabelValues(stage).Add(float64(rows))
	}
}

// RecordSplitCounts records the per-split row counts of a run
func RecordSplitCounts(counts map[string]int) {
	for name, n := range counts {
		SplitRows.WithLabelValues(name).Add(float64(n))
	}
}

// RecordClickHouseQuery records ClickHouse query metrics
func RecordClickHouseQuery(queryType, status string, duration float64) {
	ClickHouseQueries.WithLabelValues(queryType, status).Inc()
	ClickHouseQueryDuration.WithLabelValues(queryType).Observe(duration)
}

// RecordOnlineLookup records an online store lookup
func RecordOnlineLookup(table, result string) {
	OnlineLookups.WithLabelValues(table, result).Inc()
}

// RecordFunctionEvaluation records an on-demand function evaluation
func RecordFunctionEvaluation(function, status string) {
	FunctionEvaluations.WithLabelValues(function, status).Inc()
}

// RecordTaskEnqueued records task enqueue
func RecordTaskEnqueued(task, trigger string) {
	TasksEnqueued.WithLabelValues(task, trigger).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordAPIRequest records one handled API request
func RecordAPIRequest(method, route string, status int, duration float64) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration)
}
