package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/onnwee/chatlens/models"
	"github.com/onnwee/chatlens/testutil"
)

func newGQL(m *testutil.MockTwitchServer) *GQLClient {
	return &GQLClient{ClientID: "chat-client", SHA256Hash: "abc", HTTPClient: m.Client()}
}

func TestGQLClient_DownloadTranscriptPaginates(t *testing.T) {
	fastBackOff(t)
	m := testutil.NewMockTwitchServer(t)
	page1 := []map[string]any{
		testutil.CommentEdge("c1", "alice", 1, "hello", "cur1"),
		testutil.CommentEdge("c2", "bob", 2, "hi", "cur2"),
	}
	orphan := testutil.CommentEdge("c3", "ghost", 3, "boo", "cur3")
	orphan["node"].(map[string]any)["commenter"] = nil
	page2 := []map[string]any{
		testutil.CommentEdge("c2", "bob", 2, "hi", "cur2b"),
		orphan,
		testutil.CommentEdge("c4", "carol", 65, "later", "cur4"),
	}
	m.MockCommentPages(page1, page2)

	msgs, err := newGQL(m).DownloadTranscript(context.Background(), "123")
	if err != nil {
		t.Fatalf("DownloadTranscript() error = %v", err)
	}
	var ids []string
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}
	if want := []string{"c1", "c2", "c4"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if got := m.Calls("/gql"); got != 2 {
		t.Errorf("gql calls = %d, want 2", got)
	}
	first := msgs[0]
	if first.Commenter.Login != "alice" || first.Content.Body != "hello" || first.OffsetSeconds != 1 {
		t.Errorf("unexpected first message: %+v", first)
	}
	if want := []models.Badge{{SetID: "subscriber", Version: "12"}}; !reflect.DeepEqual(first.Content.Badges, want) {
		t.Errorf("badges = %+v", first.Content.Badges)
	}
}

func TestGQLClient_DownloadTranscriptRequestShape(t *testing.T) {
	fastBackOff(t)
	m := testutil.NewMockTwitchServer(t)
	m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-ID") != "chat-client" {
			t.Errorf("Client-ID header = %q", r.Header.Get("Client-ID"))
		}
		var body gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.OperationName != "VideoCommentsByOffsetOrCursor" {
			t.Errorf("operationName = %q", body.OperationName)
		}
		if body.Extensions == nil || body.Extensions.PersistedQuery.SHA256Hash != "abc" {
			t.Errorf("persisted query hash missing: %+v", body.Extensions)
		}
		if body.Variables["videoID"] != "555" {
			t.Errorf("videoID = %v", body.Variables["videoID"])
		}
		testutil.WriteJSON(w, map[string]any{"data": map[string]any{
			"video": map[string]any{"comments": map[string]any{"edges": []any{}}},
		}})
	}
	msgs, err := newGQL(m).DownloadTranscript(context.Background(), "555")
	if err != nil {
		t.Fatalf("DownloadTranscript() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestGQLClient_DownloadTranscriptErrors(t *testing.T) {
	fastBackOff(t)
	m := testutil.NewMockTwitchServer(t)
	m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, map[string]any{"data": map[string]any{"video": nil}})
	}
	if _, err := newGQL(m).DownloadTranscript(context.Background(), "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing video error = %v, want ErrNotFound", err)
	}

	m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if _, err := newGQL(m).DownloadTranscript(context.Background(), "1"); err == nil {
		t.Error("expected error when upstream is down")
	}

	c := &GQLClient{ClientID: "x"}
	if _, err := c.DownloadTranscript(context.Background(), "1"); err == nil {
		t.Error("expected error without persisted query hash")
	}
}

func TestGQLClient_Chapters(t *testing.T) {
	fastBackOff(t)
	m := testutil.NewMockTwitchServer(t)
	m.MockChapters(
		testutil.Moment{PositionMs: 600_000, DurationMs: 1_200_000, Game: "Chess"},
		testutil.Moment{PositionMs: 0, DurationMs: 600_000, Game: "Just Chatting"},
	)
	segs, err := newGQL(m).Chapters(context.Background(), "1")
	if err != nil {
		t.Fatalf("Chapters() error = %v", err)
	}
	want := []models.CategorySegment{
		{Category: "Just Chatting", EndTime: 600, Duration: 600},
		{Category: "Chess", EndTime: 1800, Duration: 1200},
	}
	if !reflect.DeepEqual(segs, want) {
		t.Errorf("segments = %+v, want %+v", segs, want)
	}

	m.MockChapters()
	segs, err = newGQL(m).Chapters(context.Background(), "1")
	if err != nil || segs != nil {
		t.Errorf("no chapters: got %v, %v", segs, err)
	}
}
