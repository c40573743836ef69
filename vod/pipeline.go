// Package vod runs the background job pipeline: collect-and-persist jobs that build a
// stream record for a broadcast, analyze jobs that compute metrics over it, and the
// retention sweeps that follow each analysis. Jobs are queued on a bounded channel,
// executed by a fixed worker pool and tracked in a JobStore.
package vod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chatlens/analytics"
	"github.com/onnwee/chatlens/config"
	"github.com/onnwee/chatlens/retention"
	"github.com/onnwee/chatlens/store"
	"github.com/onnwee/chatlens/telemetry"
)

var (
	// ErrQueueFull is returned when the job queue has no free capacity.
	ErrQueueFull = errors.New("job queue full")
	// ErrStopped is returned when enqueueing after Stop.
	ErrStopped = errors.New("pipeline stopped")
	// ErrNotRetryable is returned when resubmitting a job that has not failed.
	ErrNotRetryable = errors.New("only failed jobs can be resubmitted")
	// ErrRetryLimit is returned when a job has been resubmitted too many times.
	ErrRetryLimit = errors.New("resubmit limit reached")
)

// Sweeper runs one retention sweep.
type Sweeper interface {
	Sweep(ctx context.Context) retention.Report
}

// Pipeline owns the job queue and worker pool.
type Pipeline struct {
	store     *store.Store
	jobs      JobStore
	src       Sources
	sweeper   Sweeper
	analytics *analytics.Dispatcher

	workers      int
	maxResubmits int

	// storeBackOff paces retries of a failed job store write.
	storeBackOff func() backoff.BackOff

	mu      sync.Mutex
	queue   chan string
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
	active  atomic.Int64

	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New wires a pipeline. Nothing runs until Start.
func New(cfg *config.Config, st *store.Store, jobs JobStore, src Sources, sw Sweeper, d *analytics.Dispatcher) *Pipeline {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	return &Pipeline{
		store:        st,
		jobs:         jobs,
		src:          src,
		sweeper:      sw,
		analytics:    d,
		workers:      workers,
		maxResubmits: cfg.MaxResubmits,
		storeBackOff: defaultStoreBackOff,
		queue:        make(chan string, size),
		stop:         make(chan struct{}),
		logger:       slog.Default().With(slog.String("component", "pipeline")),
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Start launches the worker pool. Jobs run detached from ctx cancellation; use Stop to
// stop picking up new work.
func (p *Pipeline) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(base)
	}
	p.logger.Info("job pipeline started", slog.Int("workers", p.workers), slog.Int("queue_size", cap(p.queue)))
}

// Stop prevents new enqueues, lets running jobs finish and returns once every worker exited.
// Jobs still queued stay PENDING and are picked up by Recover on the next start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stop)
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("job pipeline stopped")
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case id := <-p.queue:
			telemetry.SetQueueDepth(len(p.queue))
			p.run(ctx, id)
		}
	}
}

// MaxWorkers returns the worker pool size.
func (p *Pipeline) MaxWorkers() int { return p.workers }

// ActiveJobCount returns the number of jobs currently executing.
func (p *Pipeline) ActiveJobCount() int { return int(p.active.Load()) }

// QueueDepth returns the number of jobs waiting for a worker.
func (p *Pipeline) QueueDepth() int { return len(p.queue) }

// EnqueueCollectAndPersist queues collection of a broadcast and returns the job id.
func (p *Pipeline) EnqueueCollectAndPersist(ctx context.Context, broadcastID string) (string, error) {
	if broadcastID == "" {
		return "", errors.New("broadcast id required")
	}
	return p.enqueue(ctx, KindCollect, broadcastID, nil, 0)
}

// EnqueueAnalyze validates req and queues an analysis. Invalid requests are rejected with
// an error wrapping analytics.ErrInvalidMetricInput and no job is created.
func (p *Pipeline) EnqueueAnalyze(ctx context.Context, req analytics.Request) (string, error) {
	if err := req.Normalize(); err != nil {
		return "", err
	}
	input, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return p.enqueue(ctx, KindAnalyze, req.BroadcastID, input, 0)
}

func (p *Pipeline) enqueue(ctx context.Context, kind JobKind, broadcastID string, input json.RawMessage, attempt int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return "", ErrStopped
	}
	// Holding mu while sending keeps the capacity check exact: only enqueuers add.
	if len(p.queue) >= cap(p.queue) {
		return "", ErrQueueFull
	}
	now := p.now().UTC()
	rec := &JobRecord{
		ID:          p.newID(),
		Kind:        kind,
		BroadcastID: broadcastID,
		State:       StatePending,
		Input:       input,
		Attempt:     attempt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.jobs.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	p.queue <- rec.ID
	telemetry.JobEnqueued(string(kind))
	telemetry.SetQueueDepth(len(p.queue))
	telemetry.LoggerWithCorr(ctx).Info("job enqueued",
		slog.String("component", "pipeline"),
		slog.String("job_id", rec.ID),
		slog.String("kind", string(kind)),
		slog.String("broadcast_id", broadcastID))
	return rec.ID, nil
}

// Resubmit creates a new job with the inputs of a FAILED job. The chain of resubmissions is
// bounded by the configured limit.
func (p *Pipeline) Resubmit(ctx context.Context, jobID string) (string, error) {
	rec, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if rec.State != StateFailed {
		return "", ErrNotRetryable
	}
	if rec.Attempt >= p.maxResubmits {
		return "", ErrRetryLimit
	}
	return p.enqueue(ctx, rec.Kind, rec.BroadcastID, rec.Input, rec.Attempt+1)
}

// Recover restores work left by a previous process: PENDING jobs are queued again and jobs
// caught mid-stage are failed as interrupted.
func (p *Pipeline) Recover(ctx context.Context) error {
	running, err := p.jobs.ListByState(ctx, runningStates...)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for _, rec := range running {
		err := p.jobs.Transition(ctx, rec.ID, rec.State, StateFailed, Update{
			ErrorKind: Interrupted.String(),
			Error:     "interrupted",
			At:        p.now().UTC(),
		})
		if err != nil {
			p.logger.Warn("failed to mark interrupted job", slog.String("job_id", rec.ID), slog.Any("err", err))
			continue
		}
		telemetry.JobFinished(string(rec.Kind), string(StateFailed), 0)
	}

	pending, err := p.jobs.ListByState(ctx, StatePending)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	requeued := 0
	p.mu.Lock()
	for _, rec := range pending {
		if p.stopped || len(p.queue) >= cap(p.queue) {
			break
		}
		p.queue <- rec.ID
		requeued++
	}
	p.mu.Unlock()
	telemetry.SetQueueDepth(len(p.queue))
	telemetry.RecoveredJobs(requeued)
	p.logger.Info("job recovery complete",
		slog.Int("interrupted", len(running)),
		slog.Int("requeued", requeued),
		slog.Int("pending", len(pending)))
	return nil
}

// PruneJobs deletes terminal job records older than ttl.
func (p *Pipeline) PruneJobs(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	n, err := p.jobs.Prune(ctx, p.now().Add(-ttl))
	if err != nil {
		p.logger.Warn("job record pruning failed", slog.Any("err", err))
		return
	}
	if n > 0 {
		p.logger.Info("pruned job records", slog.Int("count", n))
	}
}

// JobState is the externally visible view of a job.
type JobState struct {
	JobID     string          `json:"job_id"`
	Kind      JobKind         `json:"kind"`
	State     State           `json:"state"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Attempt   int             `json:"attempt"`
}

// Job status values reported by GetJobState.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// GetJobState reports whether a job is pending, succeeded with a result, or failed.
func (p *Pipeline) GetJobState(ctx context.Context, jobID string) (*JobState, error) {
	rec, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	st := &JobState{JobID: rec.ID, Kind: rec.Kind, State: rec.State, Status: StatusPending, Attempt: rec.Attempt}
	switch rec.State {
	case StateSucceeded:
		st.Status = StatusSuccess
		st.Result = rec.Result
	case StateFailed:
		st.Status = StatusFailure
		st.Error = rec.Error
		st.ErrorKind = rec.ErrorKind
	}
	return st, nil
}

func (p *Pipeline) run(ctx context.Context, id string) {
	rec, err := p.jobs.Get(ctx, id)
	if err != nil {
		p.logger.Error("queued job missing from store", slog.String("job_id", id), slog.Any("err", err))
		return
	}
	if rec.State != StatePending {
		p.logger.Warn("skipping job not in PENDING", slog.String("job_id", id), slog.String("state", string(rec.State)))
		return
	}

	n := p.active.Add(1)
	telemetry.SetActiveJobs(int(n))
	defer func() { telemetry.SetActiveJobs(int(p.active.Add(-1))) }()

	ctx = telemetry.WithCorrelation(ctx, rec.ID)
	attrs := append(telemetry.JobAttrs(rec.ID, string(rec.Kind), rec.BroadcastID), attribute.Int("job.attempt", rec.Attempt))
	ctx, span := telemetry.StartSpan(ctx, "job."+string(rec.Kind), attrs...)
	defer span.End()

	start := p.now()
	logger := p.logger.With(slog.String("job_id", rec.ID), slog.String("kind", string(rec.Kind)), slog.String("broadcast_id", rec.BroadcastID))
	logger.Info("job started")

	var final State
	switch rec.Kind {
	case KindCollect:
		final, err = p.runCollect(ctx, rec)
	case KindAnalyze:
		final, err = p.runAnalyze(ctx, rec)
	case KindSweep:
		final, err = p.runSweep(ctx, rec)
	default:
		err = fmt.Errorf("unknown job kind %q", rec.Kind)
	}

	d := p.now().Sub(start)
	if final != "" {
		telemetry.JobFinished(string(rec.Kind), string(final), d)
	}
	telemetry.FinishSpan(span, err)
	if err != nil {
		logger.Error("job failed", slog.Any("err", err), slog.String("error_kind", KindOf(err).String()), slog.Duration("duration", d))
		return
	}
	logger.Info("job finished", slog.String("state", string(final)), slog.Duration("duration", d))
}

// storeWriteAttempts bounds how often a state transition is written before the job is
// left for Recover.
const storeWriteAttempts = 5

func defaultStoreBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// advance moves rec to the next state, enforcing the kind's transition table. Store errors
// are retried so a transient outage does not strand the job in a running state.
func (p *Pipeline) advance(ctx context.Context, rec *JobRecord, to State, u Update) error {
	if !CanTransition(rec.Kind, rec.State, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, rec.Kind, rec.State, to)
	}
	u.At = p.now().UTC()
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := p.jobs.Transition(ctx, rec.ID, rec.State, to, u)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrInvalidTransition) && attempt > 1:
			// an earlier attempt may have committed before its error surfaced
			if cur, gerr := p.jobs.Get(ctx, rec.ID); gerr == nil && cur.State == to {
				return struct{}{}, nil
			}
			return struct{}{}, backoff.Permanent(err)
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrJobNotFound):
			return struct{}{}, backoff.Permanent(err)
		}
		p.logger.Warn("job transition failed, retrying",
			slog.String("job_id", rec.ID), slog.String("to", string(to)), slog.Int("attempt", attempt), slog.Any("err", err))
		return struct{}{}, err
	}
	if _, err := backoff.Retry(ctx, op, backoff.WithBackOff(p.storeBackOff()), backoff.WithMaxTries(storeWriteAttempts)); err != nil {
		return fmt.Errorf("transition %s %s -> %s: %w", rec.ID, rec.State, to, err)
	}
	rec.State = to
	return nil
}

// succeed records a terminal success with a JSON result.
func (p *Pipeline) succeed(ctx context.Context, rec *JobRecord, result any) (State, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return p.fail(ctx, rec, stageErr(UnknownFailure, err, "encode result"))
	}
	if err := p.advance(ctx, rec, StateSucceeded, Update{Result: b}); err != nil {
		return "", err
	}
	return StateSucceeded, nil
}

// fail records the stage error verbatim and returns it.
func (p *Pipeline) fail(ctx context.Context, rec *JobRecord, cause error) (State, error) {
	if err := p.advance(ctx, rec, StateFailed, Update{ErrorKind: KindOf(cause).String(), Error: cause.Error()}); err != nil {
		return "", errors.Join(cause, err)
	}
	return StateFailed, cause
}
