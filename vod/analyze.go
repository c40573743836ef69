package vod

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/onnwee/chatlens/analytics"
	"github.com/onnwee/chatlens/models"
	"github.com/onnwee/chatlens/retention"
	"github.com/onnwee/chatlens/store"
	"github.com/onnwee/chatlens/telemetry"
)

// AnalyzeResult is the result of a successful analyze job.
type AnalyzeResult struct {
	Status         string            `json:"status"`
	Inputs         analytics.Request `json:"inputs"`
	AnalysisResult analytics.Bundle  `json:"analysis_result"`
}

func (p *Pipeline) runAnalyze(ctx context.Context, rec *JobRecord) (State, error) {
	if err := p.advance(ctx, rec, StateAnalyzing, Update{}); err != nil {
		return "", err
	}

	var req analytics.Request
	if err := json.Unmarshal(rec.Input, &req); err != nil {
		return p.fail(ctx, rec, stageErr(InvalidMetricInput, err, "decode analysis request"))
	}

	var record models.StreamRecord
	if err := p.store.Get(store.Streams, rec.BroadcastID, &record); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return p.fail(ctx, rec, stageErr(RecordNotFound, nil, "no stream record for %s", rec.BroadcastID))
		}
		return p.fail(ctx, rec, stageErr(IOFailure, err, "load stream record"))
	}

	bundle, err := p.analytics.Run(&record, req)
	if err != nil {
		return p.fail(ctx, rec, stageErr(InvalidMetricInput, err, "run analytics"))
	}

	state, err := p.succeed(ctx, rec, AnalyzeResult{Status: ResultSuccess, Inputs: req, AnalysisResult: bundle})
	if err == nil {
		p.enqueueSweep(ctx, rec.ID)
	}
	return state, err
}

// enqueueSweep queues the follow-up retention sweep. It never blocks and never affects the
// analyze job: a full queue drops the sweep.
func (p *Pipeline) enqueueSweep(ctx context.Context, parentID string) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "pipeline"), slog.String("parent_job_id", parentID))
	if p.sweeper == nil {
		return
	}
	id, err := p.enqueue(ctx, KindSweep, "", nil, 0)
	if err != nil {
		logger.Warn("retention sweep not enqueued", slog.Any("err", err))
		return
	}
	logger.Debug("retention sweep enqueued", slog.String("sweep_job_id", id))
}

func (p *Pipeline) runSweep(ctx context.Context, rec *JobRecord) (State, error) {
	if err := p.advance(ctx, rec, StateSweeping, Update{}); err != nil {
		return "", err
	}
	var report retention.Report
	if p.sweeper != nil {
		report = p.sweeper.Sweep(ctx)
	}
	return p.succeed(ctx, rec, report)
}
