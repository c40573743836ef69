package analytics

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/onnwee/chatlens/models"
)

// PastaOptions tunes duplicate-message clustering.
type PastaOptions struct {
	// MinLength: message bodies shorter than this many characters are ignored.
	MinLength int
	// Similarity: minimum ratio for a text to join a group as a variant.
	Similarity float64
}

// DefaultPastaOptions returns the standard clustering thresholds.
func DefaultPastaOptions() PastaOptions {
	return PastaOptions{MinLength: 10, Similarity: 0.8}
}

// PastaGroup is a repeated message text together with its near-duplicates.
type PastaGroup struct {
	Text string `json:"base_pasta"`
	// Count is how often the representative text itself was posted.
	Count int `json:"count"`
	// TotalCount includes every variant's occurrences.
	TotalCount int            `json:"total_count"`
	MessageIDs []string       `json:"messages"`
	Variants   []PastaVariant `json:"variants"`
}

// PastaVariant is a text attached to a group because it closely matches the representative.
type PastaVariant struct {
	Text       string   `json:"text"`
	Count      int      `json:"count"`
	MessageIDs []string `json:"messages"`
}

type pastaCandidate struct {
	text string
	norm string
	ids  []string
}

// FindPastas groups repeated message texts. Texts posted at least twice become candidates;
// candidates are walked by descending count and each unclaimed one opens a group, claiming
// every other unclaimed candidate whose normalized form is similar enough. Assignment is
// greedy: a text joins the first group whose representative it matches.
func FindPastas(msgs []models.Message, opts PastaOptions) []PastaGroup {
	cands := repeatedTexts(msgs, opts.MinLength)
	if len(cands) == 0 {
		return []PastaGroup{}
	}

	byCount := make([]*pastaCandidate, len(cands))
	copy(byCount, cands)
	sort.SliceStable(byCount, func(i, j int) bool { return len(byCount[i].ids) > len(byCount[j].ids) })

	claimed := make(map[string]bool, len(cands))
	groups := make([]PastaGroup, 0)
	for _, base := range byCount {
		if claimed[base.text] {
			continue
		}
		g := PastaGroup{
			Text:       base.text,
			Count:      len(base.ids),
			TotalCount: len(base.ids),
			MessageIDs: base.ids,
			Variants:   []PastaVariant{},
		}
		for _, other := range cands {
			if other == base || claimed[other.text] {
				continue
			}
			if ratio(base.norm, other.norm) >= opts.Similarity {
				g.Variants = append(g.Variants, PastaVariant{Text: other.text, Count: len(other.ids), MessageIDs: other.ids})
				g.TotalCount += len(other.ids)
				claimed[other.text] = true
			}
		}
		claimed[base.text] = true
		groups = append(groups, g)
	}
	return groups
}

// TopPastas returns at most n groups from FindPastas; n <= 0 returns all of them.
func TopPastas(msgs []models.Message, opts PastaOptions, n int) []PastaGroup {
	groups := FindPastas(msgs, opts)
	if n > 0 && len(groups) > n {
		groups = groups[:n]
	}
	return groups
}

// repeatedTexts returns texts posted at least twice, in order of first appearance.
func repeatedTexts(msgs []models.Message, minLength int) []*pastaCandidate {
	index := make(map[string]*pastaCandidate)
	var order []*pastaCandidate
	for _, m := range msgs {
		text := m.Content.Body
		if utf8.RuneCountInString(text) < minLength {
			continue
		}
		c, ok := index[text]
		if !ok {
			c = &pastaCandidate{text: text}
			index[text] = c
			order = append(order, c)
		}
		c.ids = append(c.ids, m.ID)
	}
	out := order[:0]
	for _, c := range order {
		if len(c.ids) >= 2 {
			c.norm = Normalize(c.text)
			out = append(out, c)
		}
	}
	return out
}

// Normalize strips everything except letters, digits and underscores. Case is kept.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Similarity returns the matching-block ratio of the normalized forms of a and b, in [0,1].
func Similarity(a, b string) float64 { return ratio(Normalize(a), Normalize(b)) }

// ratio is 2*M/T where M counts characters in the longest matching blocks and T is the
// combined length of both strings.
func ratio(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}
