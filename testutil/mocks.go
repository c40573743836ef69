package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// MockTwitchServer is a single test server standing in for every upstream host the
// collection pipeline talks to (Helix, id.twitch.tv, GQL and the emote providers).
// Route clients to it with RewriteClient.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu           sync.Mutex
	calls        map[string]int
	commentPages [][]map[string]any
	moments      []Moment
}

// NewMockTwitchServer creates a new mock upstream server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.calls[key]++
		m.mu.Unlock()
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Calls reports how many requests hit path.
func (m *MockTwitchServer) Calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

// TotalCalls reports the number of requests across all paths.
func (m *MockTwitchServer) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// Client returns an http.Client that sends every request to the mock server.
func (m *MockTwitchServer) Client() *http.Client {
	return RewriteClient(m.URL)
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockVideoResponse adds a handler for the /helix/videos endpoint returning one video.
func (m *MockTwitchServer) MockVideoResponse(video map[string]any) {
	m.Handlers["/helix/videos"] = func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]any{}
		if video != nil && r.URL.Query().Get("id") == video["id"] {
			data = append(data, video)
		}
		WriteJSON(w, map[string]any{"data": data})
	}
}

// StallPath makes requests to path hang until the client gives up or the test ends.
func (m *MockTwitchServer) StallPath(t *testing.T, path string) {
	t.Helper()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

// MockCommentPages serves pages of GQL comment edges in order; each page after the
// first is selected by the cursor of the last edge of the previous page.
func (m *MockTwitchServer) MockCommentPages(pages ...[]map[string]any) {
	m.mu.Lock()
	m.commentPages = pages
	m.mu.Unlock()
	m.Handlers["/gql"] = m.serveGQL
}

// MockChapters serves chapter moments as {position_ms, duration_ms, game} triples.
func (m *MockTwitchServer) MockChapters(moments ...Moment) {
	m.mu.Lock()
	m.moments = moments
	m.mu.Unlock()
	m.Handlers["/gql"] = m.serveGQL
}

// Moment is a chapter marker served by MockChapters.
type Moment struct {
	PositionMs int
	DurationMs int
	Game       string
}

func (m *MockTwitchServer) serveGQL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OperationName string         `json:"operationName"`
		Query         string         `json:"query"`
		Variables     map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	pages, moments := m.commentPages, m.moments
	m.mu.Unlock()

	if req.OperationName == "" {
		edges := make([]map[string]any, 0, len(moments))
		for _, mo := range moments {
			edges = append(edges, map[string]any{"node": map[string]any{
				"positionMilliseconds": mo.PositionMs,
				"durationMilliseconds": mo.DurationMs,
				"description":          mo.Game,
				"details":              map[string]any{"game": map[string]any{"displayName": mo.Game}},
			}})
		}
		WriteJSON(w, map[string]any{"data": map[string]any{
			"video": map[string]any{"moments": map[string]any{"edges": edges}},
		}})
		return
	}

	idx := 0
	if c, ok := req.Variables["cursor"].(string); ok && c != "" {
		for i, p := range pages {
			if len(p) > 0 && p[len(p)-1]["cursor"] == c {
				idx = i + 1
				break
			}
		}
	}
	var edges []map[string]any
	if idx < len(pages) {
		edges = pages[idx]
	}
	WriteJSON(w, map[string]any{
		"data": map[string]any{
			"video": map[string]any{
				"comments": map[string]any{
					"edges":    edges,
					"pageInfo": map[string]any{"hasNextPage": idx < len(pages)-1},
				},
			},
		},
	})
}

// CommentEdge builds one GQL comment edge.
func CommentEdge(id, login string, offset int, text, cursor string) map[string]any {
	return map[string]any{
		"cursor": cursor,
		"node": map[string]any{
			"id":                   id,
			"createdAt":            "2024-01-01T00:00:00Z",
			"contentOffsetSeconds": offset,
			"commenter": map[string]any{
				"id":          "u-" + login,
				"login":       login,
				"displayName": login,
			},
			"message": map[string]any{
				"fragments": []map[string]any{{"text": text}},
				"userColor": "#FF0000",
				"userBadges": []map[string]any{
					{"setID": "subscriber", "version": "12"},
				},
			},
		},
	}
}

// RewriteClient returns an http.Client whose transport redirects every request to
// target, keeping the original path and query.
func RewriteClient(target string) *http.Client {
	u, err := url.Parse(target)
	if err != nil {
		panic(err)
	}
	return &http.Client{Transport: &rewriteTransport{target: u}}
}

type rewriteTransport struct {
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	r.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(r)
}
