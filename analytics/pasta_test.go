package analytics

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/onnwee/chatlens/models"
)

// chat builds a transcript from body texts, assigning sequential ids.
func chat(bodies ...string) []models.Message {
	out := make([]models.Message, 0, len(bodies))
	for i, b := range bodies {
		out = append(out, models.Message{
			ID:            fmt.Sprintf("m%d", i+1),
			OffsetSeconds: i,
			Commenter:     models.Commenter{ID: "u", Login: "user", DisplayName: "User"},
			Content:       models.MessageContent{Body: b},
		})
	}
	return out
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"gg wp!!", "ggwp"},
		{"GG  WP", "GGWP"},
		{"привет, мир!", "приветмир"},
		{"snake_case 123", "snake_case123"},
		{"!!! ...", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("gg wp", "gg wp!!"); got != 1 {
		t.Errorf("Similarity(gg wp, gg wp!!) = %v, want 1", got)
	}
	if got := Similarity("gg wp", "totally different phrase"); got >= 0.8 {
		t.Errorf("Similarity(gg wp, totally different phrase) = %v, want < 0.8", got)
	}
	a, b := Similarity("abcdefghij", "abcdefghijkl"), Similarity("abcdefghijkl", "abcdefghij")
	if a != b {
		t.Errorf("Similarity not symmetric: %v vs %v", a, b)
	}
	// 2*10 matching characters over 22 total.
	if want := 20.0 / 22.0; a != want {
		t.Errorf("Similarity = %v, want %v", a, want)
	}
}

func TestFindPastasGroupsNearDuplicates(t *testing.T) {
	var bodies []string
	bodies = append(bodies, repeat("gg wp", 3)...)
	bodies = append(bodies, repeat("gg wp!!", 2)...)
	bodies = append(bodies, repeat("totally different phrase", 2)...)
	bodies = append(bodies, "once only message")

	groups := FindPastas(chat(bodies...), PastaOptions{MinLength: 1, Similarity: 0.8})

	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2: %+v", len(groups), groups)
	}
	g := groups[0]
	if g.Text != "gg wp" || g.Count != 3 || g.TotalCount != 5 {
		t.Errorf("group[0] = %q count=%d total=%d, want gg wp 3/5", g.Text, g.Count, g.TotalCount)
	}
	if !reflect.DeepEqual(g.MessageIDs, []string{"m1", "m2", "m3"}) {
		t.Errorf("group[0].MessageIDs = %v", g.MessageIDs)
	}
	if len(g.Variants) != 1 || g.Variants[0].Text != "gg wp!!" || g.Variants[0].Count != 2 {
		t.Errorf("group[0].Variants = %+v", g.Variants)
	}
	if !reflect.DeepEqual(g.Variants[0].MessageIDs, []string{"m4", "m5"}) {
		t.Errorf("variant ids = %v", g.Variants[0].MessageIDs)
	}
	if groups[1].Text != "totally different phrase" || len(groups[1].Variants) != 0 {
		t.Errorf("group[1] = %+v", groups[1])
	}
}

func TestFindPastasMinimumLength(t *testing.T) {
	groups := FindPastas(chat(repeat("hi", 50)...), DefaultPastaOptions())
	if len(groups) != 0 {
		t.Errorf("short messages formed groups: %+v", groups)
	}

	// Exactly MinLength characters is long enough.
	groups = FindPastas(chat(repeat("0123456789", 2)...), DefaultPastaOptions())
	if len(groups) != 1 {
		t.Errorf("got %d groups for 10-character pasta, want 1", len(groups))
	}
}

func TestFindPastasRequiresRepetition(t *testing.T) {
	groups := FindPastas(chat("this is said once", "this is said once!"), DefaultPastaOptions())
	if len(groups) != 0 {
		t.Errorf("unrepeated texts formed groups: %+v", groups)
	}
}

func TestFindPastasFirstMatchWins(t *testing.T) {
	// C matches both A (0.91) and B (0.83), while A and B do not match each other (0.73).
	// A is walked first, so C is claimed by A and B opens its own group.
	const a, b, c = "abcdefghij", "cdefghijklmn", "abcdefghijkl"
	var bodies []string
	bodies = append(bodies, repeat(c, 2)...)
	bodies = append(bodies, repeat(b, 3)...)
	bodies = append(bodies, repeat(a, 4)...)

	groups := FindPastas(chat(bodies...), PastaOptions{MinLength: 1, Similarity: 0.8})

	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2: %+v", len(groups), groups)
	}
	if groups[0].Text != a || len(groups[0].Variants) != 1 || groups[0].Variants[0].Text != c {
		t.Errorf("group[0] = %+v, want %q with variant %q", groups[0], a, c)
	}
	if groups[1].Text != b || len(groups[1].Variants) != 0 {
		t.Errorf("group[1] = %+v, want %q without variants", groups[1], b)
	}
}

func TestFindPastasStableOrderOnTies(t *testing.T) {
	var bodies []string
	for _, s := range []string{"first repeated line", "second repeated line xyz", "a completely unrelated one"} {
		bodies = append(bodies, repeat(s, 2)...)
	}
	groups := FindPastas(chat(bodies...), PastaOptions{MinLength: 1, Similarity: 0.95})
	var got []string
	for _, g := range groups {
		got = append(got, g.Text)
	}
	want := []string{"first repeated line", "second repeated line xyz", "a completely unrelated one"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("group order = %v, want %v", got, want)
	}
}

func TestTopPastasLimit(t *testing.T) {
	var bodies []string
	for i := 0; i < 5; i++ {
		bodies = append(bodies, repeat(strings.Repeat(string(rune('a'+i)), 12), 2)...)
	}
	if got := len(TopPastas(chat(bodies...), DefaultPastaOptions(), 3)); got != 3 {
		t.Errorf("TopPastas(n=3) returned %d groups", got)
	}
	if got := len(TopPastas(chat(bodies...), DefaultPastaOptions(), 0)); got != 5 {
		t.Errorf("TopPastas(n=0) returned %d groups, want all 5", got)
	}
}
