package vod

import (
	"context"
	"errors"
	"log/slog"

	"github.com/onnwee/chatlens/models"
	"github.com/onnwee/chatlens/store"
	"github.com/onnwee/chatlens/telemetry"
)

// Collect results.
const (
	ResultSuccess       = "success"
	ResultAlreadyExists = "already_exists"
)

// CollectResult is the result of a successful collect-and-persist job.
type CollectResult struct {
	Status   string `json:"status"`
	Location string `json:"location"`
}

// UnknownCategory labels the synthetic segment when the broadcast has no category.
const UnknownCategory = "Unknown"

func (p *Pipeline) runCollect(ctx context.Context, rec *JobRecord) (State, error) {
	id := rec.BroadcastID
	exists, err := p.store.Exists(store.Streams, id)
	if err != nil {
		return p.fail(ctx, rec, stageErr(IOFailure, err, "check stored record"))
	}
	if exists {
		return p.succeed(ctx, rec, CollectResult{Status: ResultAlreadyExists, Location: p.store.Path(store.Streams, id)})
	}

	if err := p.advance(ctx, rec, StateCollecting, Update{}); err != nil {
		return "", err
	}
	record, err := p.collect(ctx, id)
	if err != nil {
		return p.fail(ctx, rec, err)
	}

	if err := p.advance(ctx, rec, StatePersisting, Update{}); err != nil {
		return "", err
	}
	res, loc, err := p.store.PutIfAbsent(store.Streams, id, record)
	if err != nil {
		return p.fail(ctx, rec, stageErr(IOFailure, err, "persist stream record"))
	}
	status := ResultSuccess
	if res == store.AlreadyExists {
		status = ResultAlreadyExists
	}
	return p.succeed(ctx, rec, CollectResult{Status: status, Location: loc})
}

// collect gathers everything needed for a stream record. Metadata and streamer id are
// required; emotes and categories degrade to defaults.
func (p *Pipeline) collect(ctx context.Context, id string) (*models.StreamRecord, error) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "collect"), slog.String("broadcast_id", id))

	info, err := p.src.GetBroadcastInfo(ctx, id)
	if err != nil || info == nil {
		return nil, stageErr(UpstreamDataUnavailable, err, "broadcast metadata for %s", id)
	}
	streamerID := info.UserID
	if streamerID == "" {
		streamerID, err = p.src.GetStreamerID(ctx, id)
		if err != nil || streamerID == "" {
			return nil, stageErr(UpstreamDataUnavailable, err, "streamer id for %s", id)
		}
	}

	emotes := p.src.GetEmotes(ctx, streamerID)
	if emotes == nil {
		emotes = models.EmoteCatalog{}
	}

	chat, err := p.transcript(ctx, logger, id)
	if err != nil {
		return nil, err
	}

	segs, err := p.src.GetCategorySegments(ctx, id)
	if err != nil {
		logger.Warn("category segments unavailable, using fallback", slog.Any("err", err))
		segs = nil
	}
	fallback := info.Category
	if fallback == "" {
		fallback = UnknownCategory
	}

	return &models.StreamRecord{
		VideoID:    id,
		UserID:     streamerID,
		VODInfo:    *info,
		Emotes:     emotes,
		Chat:       chat,
		Categories: NormalizeSegments(segs, info.DurationSeconds, fallback),
	}, nil
}

// transcript returns the cached raw transcript or downloads and caches it. An empty
// download is not cached: the cache is write-once and chat may still be backfilling.
func (p *Pipeline) transcript(ctx context.Context, logger *slog.Logger, id string) ([]models.Message, error) {
	var cached []models.Message
	err := p.store.Get(store.Transcripts, id, &cached)
	switch {
	case err == nil && len(cached) > 0:
		logger.Info("reusing cached transcript", slog.Int("messages", len(cached)))
		return DedupeMessages(cached), nil
	case err == nil:
		logger.Info("cached transcript is empty, downloading")
	case !errors.Is(err, store.ErrNotFound):
		logger.Warn("cached transcript unreadable, downloading", slog.Any("err", err))
	}

	msgs, err := p.src.DownloadTranscript(ctx, id)
	if err != nil {
		return nil, stageErr(TranscriptUnavailable, err, "transcript for %s", id)
	}
	msgs = DedupeMessages(msgs)
	if len(msgs) == 0 {
		logger.Warn("transcript is empty, not caching")
		return []models.Message{}, nil
	}
	if _, _, err := p.store.PutIfAbsent(store.Transcripts, id, msgs); err != nil {
		return nil, stageErr(IOFailure, err, "cache transcript")
	}
	return msgs, nil
}

// DedupeMessages drops repeated message ids, keeping the first occurrence and arrival order.
func DedupeMessages(msgs []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := msgs[:0:0]
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// NormalizeSegments makes segments contiguous and non-overlapping, ending at the broadcast
// duration when it is known. Without usable segments a single synthetic segment labelled
// fallback spans the whole broadcast.
func NormalizeSegments(segs []models.CategorySegment, duration int, fallback string) []models.CategorySegment {
	var out []models.CategorySegment
	prev := 0
	for _, s := range segs {
		end := s.EndTime
		if duration > 0 && end > duration {
			end = duration
		}
		if end <= prev {
			continue
		}
		out = append(out, models.CategorySegment{Category: s.Category, EndTime: end, Duration: end - prev})
		prev = end
	}
	if len(out) == 0 {
		return []models.CategorySegment{{Category: fallback, EndTime: duration, Duration: duration}}
	}
	if last := &out[len(out)-1]; duration > 0 && last.EndTime < duration {
		last.Duration += duration - last.EndTime
		last.EndTime = duration
	}
	return out
}
