// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and correlation-id
// aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters, labelled by job kind (and outcome for completions).
	JobsEnqueued  *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsRecovered prometheus.Counter

	RetentionDeleted    prometheus.Counter
	RetentionFailed     prometheus.Counter
	RetentionBytesFreed prometheus.Counter
	RetentionSweeps     prometheus.Counter

	UpstreamRequests *prometheus.CounterVec

	// Histograms (seconds)
	JobDuration   *prometheus.HistogramVec
	SweepDuration prometheus.Observer

	// Gauges
	ActiveJobsGauge prometheus.Gauge
	QueueDepthGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatlens_jobs_enqueued_total", Help: "Number of jobs enqueued"}, []string{"kind"})
		JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatlens_jobs_completed_total", Help: "Number of jobs reaching a terminal state"}, []string{"kind", "state"})
		JobsRecovered = promauto.NewCounter(prometheus.CounterOpts{Name: "chatlens_jobs_recovered_total", Help: "Pending jobs re-enqueued after a restart"})
		RetentionDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "chatlens_retention_deleted_total", Help: "Storage entries deleted by retention sweeps"})
		RetentionFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "chatlens_retention_delete_failures_total", Help: "Storage entries that could not be deleted"})
		RetentionBytesFreed = promauto.NewCounter(prometheus.CounterOpts{Name: "chatlens_retention_bytes_freed_total", Help: "Bytes reclaimed by retention sweeps"})
		RetentionSweeps = promauto.NewCounter(prometheus.CounterOpts{Name: "chatlens_retention_sweeps_total", Help: "Number of retention sweeps run"})
		UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatlens_upstream_requests_total", Help: "Upstream API requests by source and outcome"}, []string{"source", "outcome"})
		JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "chatlens_job_duration_seconds", Help: "Job execution duration seconds", Buckets: prometheus.ExponentialBuckets(0.05, 2, 14)}, []string{"kind"})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatlens_retention_sweep_duration_seconds", Help: "Retention sweep duration seconds", Buckets: prometheus.DefBuckets})
		ActiveJobsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatlens_active_jobs", Help: "Jobs currently executing on a worker"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatlens_queue_depth", Help: "Jobs waiting for a worker"})
	})
}

// JobEnqueued counts an enqueued job of the given kind.
func JobEnqueued(kind string) {
	if JobsEnqueued != nil {
		JobsEnqueued.WithLabelValues(kind).Inc()
	}
}

// JobFinished records the terminal state and duration of a job.
func JobFinished(kind, state string, d time.Duration) {
	if JobsCompleted != nil {
		JobsCompleted.WithLabelValues(kind, state).Inc()
	}
	if JobDuration != nil {
		JobDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// RecoveredJobs counts pending jobs re-enqueued on start.
func RecoveredJobs(n int) {
	if JobsRecovered != nil && n > 0 {
		JobsRecovered.Add(float64(n))
	}
}

// Upstream counts an upstream request outcome ("ok", "error", "retry").
func Upstream(source, outcome string) {
	if UpstreamRequests != nil {
		UpstreamRequests.WithLabelValues(source, outcome).Inc()
	}
}

// SetActiveJobs records how many jobs are executing.
func SetActiveJobs(n int) {
	if ActiveJobsGauge != nil {
		ActiveJobsGauge.Set(float64(n))
	}
}

// SetQueueDepth records how many jobs are waiting.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// RetentionSwept records the outcome of one sweep.
func RetentionSwept(deleted, failed int, bytesFreed int64) {
	if RetentionSweeps == nil {
		return
	}
	RetentionSweeps.Inc()
	RetentionDeleted.Add(float64(deleted))
	RetentionFailed.Add(float64(failed))
	RetentionBytesFreed.Add(float64(bytesFreed))
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
