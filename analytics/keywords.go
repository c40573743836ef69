package analytics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/onnwee/chatlens/models"
)

// KeywordOptions controls keyword matching.
type KeywordOptions struct {
	// UseRegex treats each keyword as an RE2 pattern.
	UseRegex bool
	// MatchCase applies to patterns only; plain keywords always match case-insensitively.
	MatchCase bool
}

// KeywordMatcher selects messages whose body contains any of a set of keywords.
type KeywordMatcher struct {
	lowered  []string
	patterns []*regexp.Regexp
}

// NewKeywordMatcher prepares keywords for matching. Invalid patterns are reported as
// ErrInvalidMetricInput.
func NewKeywordMatcher(keywords []string, opts KeywordOptions) (*KeywordMatcher, error) {
	km := &KeywordMatcher{}
	for _, kw := range keywords {
		if opts.UseRegex {
			expr := kw
			if !opts.MatchCase {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("%w: keyword %q: %v", ErrInvalidMetricInput, kw, err)
			}
			km.patterns = append(km.patterns, re)
			continue
		}
		km.lowered = append(km.lowered, strings.ToLower(kw))
	}
	return km, nil
}

// Empty reports whether there are no keywords to match.
func (k *KeywordMatcher) Empty() bool { return len(k.lowered) == 0 && len(k.patterns) == 0 }

// Match reports whether body contains any keyword.
func (k *KeywordMatcher) Match(body string) bool {
	for _, re := range k.patterns {
		if re.MatchString(body) {
			return true
		}
	}
	if len(k.lowered) > 0 {
		lb := strings.ToLower(body)
		for _, kw := range k.lowered {
			if strings.Contains(lb, kw) {
				return true
			}
		}
	}
	return false
}

// Filter returns the messages that match, in transcript order.
func (k *KeywordMatcher) Filter(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0)
	for _, m := range msgs {
		if k.Match(m.Content.Body) {
			out = append(out, m)
		}
	}
	return out
}
