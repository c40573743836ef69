// Package analytics computes chat statistics over a stored stream record: top chatters,
// keyword search, repeated-message ("pasta") clustering, emote usage and an activity
// timeline. The Dispatcher runs a requested subset and assembles the result bundle.
package analytics

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/chatlens/models"
)

// ErrInvalidMetricInput marks malformed analysis parameters. Requests failing validation are
// rejected before any job is enqueued.
var ErrInvalidMetricInput = errors.New("invalid metric input")

// Metric names accepted in a Request.
const (
	MetricTopChatters    = "top_chatters"
	MetricKeywordsSearch = "keywords_search"
	MetricTopPastes      = "top_pastes"
	MetricTopEmoticons   = "top_emoticons"
	MetricChatActivity   = "chat_activity"
)

// DefaultCount is used for every ranking size left at zero.
const DefaultCount = 10

// Params tunes the individual metrics.
type Params struct {
	TopChattersCount int      `json:"top_chatters_count"`
	Keywords         []string `json:"keywords"`
	TopPastesCount   int      `json:"top_pastes_count"`
	EmoticonsCount   int      `json:"emoticons_count"`
	UseRegex         bool     `json:"use_regex,omitempty"`
	MatchCase        bool     `json:"match_case,omitempty"`
}

// Request selects metrics for one broadcast.
type Request struct {
	BroadcastID string   `json:"vod_id"`
	Metrics     []string `json:"metrics"`
	Params
}

// Normalize fills in default counts and validates the request.
func (r *Request) Normalize() error {
	r.BroadcastID = strings.TrimSpace(r.BroadcastID)
	if r.BroadcastID == "" {
		return fmt.Errorf("%w: missing broadcast id", ErrInvalidMetricInput)
	}
	if len(r.Metrics) == 0 {
		return fmt.Errorf("%w: no metrics requested", ErrInvalidMetricInput)
	}
	for _, c := range []struct {
		name string
		v    *int
	}{
		{"top_chatters_count", &r.TopChattersCount},
		{"top_pastes_count", &r.TopPastesCount},
		{"emoticons_count", &r.EmoticonsCount},
	} {
		if *c.v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidMetricInput, c.name)
		}
		if *c.v == 0 {
			*c.v = DefaultCount
		}
	}
	kept := r.Keywords[:0]
	for _, kw := range r.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			kept = append(kept, kw)
		}
	}
	r.Keywords = kept
	if _, err := r.keywordMatcher(); err != nil {
		return err
	}
	return nil
}

func (r *Request) keywordMatcher() (*KeywordMatcher, error) {
	return NewKeywordMatcher(r.Keywords, KeywordOptions{UseRegex: r.UseRegex, MatchCase: r.MatchCase})
}

// Bundle maps metric names to their results.
type Bundle map[string]any

type input struct {
	record   *models.StreamRecord
	req      *Request
	keywords *KeywordMatcher
}

type analytic func(in input) any

// Dispatcher runs analytics by metric name.
type Dispatcher struct {
	analytics map[string]analytic
	logger    *slog.Logger
}

// NewDispatcher returns a dispatcher with the standard metrics registered.
func NewDispatcher(pasta PastaOptions) *Dispatcher {
	return &Dispatcher{
		logger: slog.Default().With(slog.String("component", "analytics")),
		analytics: map[string]analytic{
			MetricTopChatters: func(in input) any {
				return TopChatters(in.record.Chat, in.req.TopChattersCount)
			},
			MetricKeywordsSearch: func(in input) any {
				return in.keywords.Filter(in.record.Chat)
			},
			MetricTopPastes: func(in input) any {
				return TopPastas(in.record.Chat, pasta, in.req.TopPastesCount)
			},
			MetricTopEmoticons: func(in input) any {
				return RankEmotes(in.record.Chat, in.record.Emotes, in.req.EmoticonsCount, true)
			},
			MetricChatActivity: func(in input) any {
				return ChatActivity(in.record.Chat, in.record.Categories, in.keywords)
			},
		},
	}
}

// Known reports whether name is a registered metric.
func (d *Dispatcher) Known(name string) bool {
	_, ok := d.analytics[name]
	return ok
}

// Run computes every requested metric. Unknown metric names are skipped.
func (d *Dispatcher) Run(record *models.StreamRecord, req Request) (Bundle, error) {
	km, err := req.keywordMatcher()
	if err != nil {
		return nil, err
	}
	in := input{record: record, req: &req, keywords: km}
	out := make(Bundle, len(req.Metrics))
	for _, name := range req.Metrics {
		if _, done := out[name]; done {
			continue
		}
		fn, ok := d.analytics[name]
		if !ok {
			d.logger.Debug("ignoring unknown metric", slog.String("metric", name), slog.String("broadcast_id", record.VideoID))
			continue
		}
		out[name] = fn(in)
	}
	return out, nil
}
