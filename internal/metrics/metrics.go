// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jakebot_calls_processed_total",
			Help: "Calls processed, by final state",
		},
		[]string{"state"}, // completed, failed, duplicate
	)

	CommitmentsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jakebot_commitments_extracted_total",
			Help: "Commitments detected in transcripts",
		},
		[]string{"type", "system"},
	)

	TasksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jakebot_tasks_created_total",
			Help: "Task dispatch results per target",
		},
		[]string{"target", "status"}, // status: success, transient, permanent, timeout, circuit_open
	)

	TaskStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jakebot_task_status_changes_total",
			Help: "Task lifecycle updates per target",
		},
		[]string{"target", "status"}, // status: the new status, or error
	)

	RemoteAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jakebot_remote_attempts_total",
			Help: "HTTP attempts against remote task APIs",
		},
		[]string{"target", "result"},
	)

	ProcessingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jakebot_processing_errors_total",
			Help: "Fatal processing errors by type",
		},
		[]string{"error_type"},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jakebot_processing_duration_seconds",
			Help:    "End to end processing time of one call",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jakebot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~65s
		},
		[]string{"method", "path", "status"},
	)
)

func RecordCall(state string, duration time.Duration) {
	CallsProcessed.WithLabelValues(state).Inc()
	ProcessingDuration.Observe(duration.Seconds())
}

func IncrementCommitment(commitmentType, system string) {
	if commitmentType == "" {
		commitmentType = "unknown"
	}
	CommitmentsExtracted.WithLabelValues(commitmentType, system).Inc()
}

func IncrementTask(target, status string) {
	TasksCreated.WithLabelValues(target, status).Inc()
}

func IncrementTaskStatus(target, status string) {
	TaskStatusChanges.WithLabelValues(target, status).Inc()
}

// RecordAttempt matches remote.Options.OnAttempt once the target is a string.
func RecordAttempt(target string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RemoteAttempts.WithLabelValues(target, result).Inc()
}

func IncrementError(errorType string) {
	ProcessingErrors.WithLabelValues(errorType).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
