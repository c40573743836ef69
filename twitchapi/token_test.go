package twitchapi

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/onnwee/chatlens/testutil"
)

func TestTokenSource_GetCached(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token-123", 3600)

	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", HTTPClient: m.Client()}
	ctx := context.Background()

	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-123" {
		t.Errorf("Get() = %s, want test-token-123", token1)
	}
	token2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != token1 {
		t.Errorf("cached token = %s, want %s", token2, token1)
	}
	if n := m.Calls("/oauth2/token"); n != 1 {
		t.Errorf("expected 1 token request (cached), got %d", n)
	}
}

func TestTokenSource_SendsClientCredentials(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("client_id") != "cid" || r.Form.Get("client_secret") != "sec" {
			t.Errorf("credentials not sent in params: %v", r.Form)
		}
		testutil.WriteJSON(w, map[string]any{"access_token": "tok", "expires_in": 60, "token_type": "bearer"})
	}
	ts := &TokenSource{ClientID: "cid", ClientSecret: "sec", HTTPClient: m.Client()}
	if _, err := ts.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestTokenSource_GetMissingCredentials(t *testing.T) {
	for _, ts := range []*TokenSource{{ClientID: "x"}, {ClientSecret: "y"}, {}} {
		if _, err := ts.Get(context.Background()); err == nil {
			t.Errorf("expected error for %+v", ts)
		}
	}
}

func TestTokenSource_GetServerError(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", HTTPClient: m.Client()}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("expected error on server failure")
	}
}

func TestTokenSource_GetEmptyToken(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("", 3600)
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", HTTPClient: m.Client()}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("expected error for empty access token")
	}
}

func TestTokenSource_ConcurrentAccess(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("shared", 3600)
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", HTTPClient: m.Client()}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := ts.Get(context.Background())
			if err == nil && tok != "shared" {
				t.Errorf("token = %q", tok)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if n := m.Calls("/oauth2/token"); n != 1 {
		t.Errorf("expected a single token request, got %d", n)
	}
}
