package analytics

import (
	"sort"

	"github.com/onnwee/chatlens/models"
)

// Timeline is chat activity per minute of broadcast, with category changes.
type Timeline struct {
	Minutes           []MinuteBucket     `json:"minutes"`
	CategoryIntervals []CategoryInterval `json:"category_intervals"`
	UniqueCategories  []string           `json:"unique_categories"`
}

// MinuteBucket counts messages posted during one minute of the broadcast.
type MinuteBucket struct {
	Minute          int `json:"minute"`
	Messages        int `json:"messages"`
	KeywordMessages int `json:"keyword_messages"`
}

// CategoryInterval is a category segment expressed in whole minutes.
type CategoryInterval struct {
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Category    string `json:"category"`
}

// ChatActivity builds a dense per-minute timeline from the first to the last active minute.
// Keyword counts stay zero when km is nil or empty.
func ChatActivity(msgs []models.Message, categories []models.CategorySegment, km *KeywordMatcher) Timeline {
	tl := Timeline{
		Minutes:           []MinuteBucket{},
		CategoryIntervals: make([]CategoryInterval, 0, len(categories)),
		UniqueCategories:  []string{},
	}

	unique := make(map[string]bool)
	for _, c := range categories {
		tl.CategoryIntervals = append(tl.CategoryIntervals, CategoryInterval{
			StartMinute: c.Start() / 60,
			EndMinute:   c.EndTime / 60,
			Category:    c.Category,
		})
		if !unique[c.Category] {
			unique[c.Category] = true
			tl.UniqueCategories = append(tl.UniqueCategories, c.Category)
		}
	}
	sort.Strings(tl.UniqueCategories)

	if len(msgs) == 0 {
		return tl
	}
	lo, hi := msgs[0].OffsetSeconds/60, msgs[0].OffsetSeconds/60
	for _, m := range msgs {
		minute := m.OffsetSeconds / 60
		lo = min(lo, minute)
		hi = max(hi, minute)
	}
	tl.Minutes = make([]MinuteBucket, hi-lo+1)
	for i := range tl.Minutes {
		tl.Minutes[i].Minute = lo + i
	}
	matchKeywords := km != nil && !km.Empty()
	for _, m := range msgs {
		b := &tl.Minutes[m.OffsetSeconds/60-lo]
		b.Messages++
		if matchKeywords && km.Match(m.Content.Body) {
			b.KeywordMessages++
		}
	}
	return tl
}
