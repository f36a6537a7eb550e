// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_runs_completed_total",
			Help: "Total number of stage runs completed successfully",
		},
		[]string{"stage"},
	)

	StageRunsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_runs_failed_total",
			Help: "Total number of stage runs that failed",
		},
		[]string{"stage", "error_code"},
	)

	StageRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_stage_run_duration_seconds",
			Help: "Duration of stage runs in seconds",
		},
		[]string{"stage"},
	)

	ModelRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_model_retry_attempts_total",
			Help: "Total model call attempts, including retries",
		},
		[]string{"operation"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_workflows_completed_total",
			Help: "Total workflows by terminal state",
		},
		[]string{"state"},
	)

	CredentialUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_credential_usage_total",
			Help: "Credential usage by source and outcome",
		},
		[]string{"provider", "source", "outcome"},
	)
)
