package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // second call must not re-register

	if JobsEnqueued == nil || JobsCompleted == nil || JobDuration == nil {
		t.Fatal("job metrics not initialized")
	}
	if RetentionDeleted == nil || SweepDuration == nil {
		t.Fatal("retention metrics not initialized")
	}
}

func TestJobCounters(t *testing.T) {
	Init()

	before := testutil.ToFloat64(JobsEnqueued.WithLabelValues("collect"))
	JobEnqueued("collect")
	JobEnqueued("collect")
	if got := testutil.ToFloat64(JobsEnqueued.WithLabelValues("collect")) - before; got != 2 {
		t.Errorf("enqueued delta = %v, want 2", got)
	}

	before = testutil.ToFloat64(JobsCompleted.WithLabelValues("analyze", "FAILED"))
	JobFinished("analyze", "FAILED", 150*time.Millisecond)
	if got := testutil.ToFloat64(JobsCompleted.WithLabelValues("analyze", "FAILED")) - before; got != 1 {
		t.Errorf("completed delta = %v, want 1", got)
	}
}

func TestRetentionSwept(t *testing.T) {
	Init()

	deleted := testutil.ToFloat64(RetentionDeleted)
	freed := testutil.ToFloat64(RetentionBytesFreed)
	RetentionSwept(3, 1, 4096)
	if got := testutil.ToFloat64(RetentionDeleted) - deleted; got != 3 {
		t.Errorf("deleted delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(RetentionBytesFreed) - freed; got != 4096 {
		t.Errorf("bytes freed delta = %v, want 4096", got)
	}
}

func TestGauges(t *testing.T) {
	Init()

	SetActiveJobs(3)
	SetQueueDepth(7)
	if got := testutil.ToFloat64(ActiveJobsGauge); got != 3 {
		t.Errorf("active jobs = %v, want 3", got)
	}
	if got := testutil.ToFloat64(QueueDepthGauge); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	d := TimeFunc(SweepDuration, func() { time.Sleep(5 * time.Millisecond) })
	if d < 5*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 5ms", d)
	}
	// nil observer is allowed
	TimeFunc(nil, func() {})
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty) = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation() = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr() returned nil")
	}
}
