// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_consumed_total",
			Help: "Total number of inbound events consumed per topic",
		},
		[]string{"topic"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_dropped_total",
			Help: "Total number of inbound events dropped per topic and reason",
		},
		[]string{"topic", "reason"},
	)

	StageRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_runs_completed_total",
			Help: "Total number of stage runs that produced results",
		},
		[]string{"stage"},
	)

	StageRunsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_runs_failed_total",
			Help: "Total number of stage runs that settled with an error",
		},
		[]string{"stage", "error_code"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_stage_duration_seconds",
			Help: "Duration of a stage run in seconds",
		},
		[]string{"stage"},
	)

	ChunksDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_chunks_dispatched_total",
			Help: "Total number of scoring chunks dispatched per stage",
		},
		[]string{"stage"},
	)

	ChunksRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_chunks_retried_total",
			Help: "Total number of scoring chunk retries per stage",
		},
		[]string{"stage"},
	)

	ChunksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_chunks_failed_total",
			Help: "Total number of scoring chunks that exhausted retries per stage",
		},
		[]string{"stage"},
	)

	ResultsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_results_saved_total",
			Help: "Total number of aggregate saves per resulting status",
		},
		[]string{"status"},
	)
)
