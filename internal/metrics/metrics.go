package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	SkippedAlreadyProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_detect_skipped_already_processed_total",
			Help: "Total number of group key evaluations skipped by the dedupe guard",
		},
	)

	SkippedMissingConditionGroup = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_detect_skipped_missing_condition_group_total",
			Help: "Total number of group key evaluations skipped because the detector has no condition group",
		},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_detect_evaluation_duration_seconds",
			Help:    "Duration of a single detector evaluation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResultsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_detect_results_emitted_total",
			Help: "Total number of state-change results emitted",
		},
	)

	// Commit metrics
	CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_detect_commit_duration_seconds",
			Help:    "Duration of a state commit in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommitErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_detect_commit_errors_total",
			Help: "Total number of failed state commits",
		},
	)

	StateRowsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_detect_state_rows_created_total",
			Help: "Total number of detector state rows created",
		},
	)

	StateRowsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_detect_state_rows_updated_total",
			Help: "Total number of detector state rows updated",
		},
	)

	// Packet intake metrics
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_detect_packets_total",
			Help: "Total number of telemetry packets consumed",
		},
		[]string{"status"},
	)
)
