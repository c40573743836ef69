package analytics

import (
	"sort"
	"strings"

	"github.com/onnwee/chatlens/models"
)

// EmoteUsage is how many messages used one emote.
type EmoteUsage struct {
	Name     string `json:"name"`
	Count    int    `json:"count"`
	URL      string `json:"url"`
	Platform string `json:"platform,omitempty"`
}

type emoteInfo struct {
	url      string
	platform string
}

// RankEmotes counts, for every emote in the catalog, the messages whose body contains its
// name. A message counts at most once per emote. Results are ordered by count descending;
// n <= 0 returns all used emotes.
func RankEmotes(msgs []models.Message, catalog models.EmoteCatalog, n int, includePlatform bool) []EmoteUsage {
	// When a name exists on several platforms the later platform wins, as it shadows the
	// earlier one in chat clients.
	var names []string
	info := make(map[string]emoteInfo)
	for _, platform := range platformOrder(catalog) {
		for _, e := range catalog[platform] {
			if e.Name == "" {
				continue
			}
			if _, ok := info[e.Name]; !ok {
				names = append(names, e.Name)
			}
			info[e.Name] = emoteInfo{url: e.URL, platform: platform}
		}
	}

	counts := make(map[string]int)
	var seenOrder []string
	for _, m := range msgs {
		body := m.Content.Body
		for _, name := range names {
			if !strings.Contains(body, name) {
				continue
			}
			if counts[name] == 0 {
				seenOrder = append(seenOrder, name)
			}
			counts[name]++
		}
	}

	sort.SliceStable(seenOrder, func(i, j int) bool { return counts[seenOrder[i]] > counts[seenOrder[j]] })
	if n > 0 && len(seenOrder) > n {
		seenOrder = seenOrder[:n]
	}
	out := make([]EmoteUsage, 0, len(seenOrder))
	for _, name := range seenOrder {
		u := EmoteUsage{Name: name, Count: counts[name], URL: info[name].url}
		if includePlatform {
			u.Platform = info[name].platform
		}
		out = append(out, u)
	}
	return out
}

// platformOrder lists the known platforms first, then any others alphabetically.
func platformOrder(catalog models.EmoteCatalog) []string {
	order := make([]string, 0, len(catalog))
	known := make(map[string]bool)
	for _, p := range models.Platforms {
		known[p] = true
		if _, ok := catalog[p]; ok {
			order = append(order, p)
		}
	}
	var extra []string
	for p := range catalog {
		if !known[p] {
			extra = append(extra, p)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}
