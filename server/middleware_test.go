package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: time.Minute}
	rl := newIPRateLimiter(t.Context(), cfg)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("4th request within window should be denied")
	}
	if !rl.allow("5.6.7.8") {
		t.Fatal("other IPs have their own budget")
	}

	// one token refills every window/requestsPerIP
	now = now.Add(20 * time.Second)
	if !rl.allow("1.2.3.4") {
		t.Fatal("expected a refilled token")
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("only one token should have refilled")
	}

	now = now.Add(3 * time.Minute)
	rl.cleanup()
	rl.mu.Lock()
	n := len(rl.visitors)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("visitors after cleanup = %d, want 0", n)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute})
	for i := 0; i < 10; i++ {
		if !rl.allow("1.2.3.4") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: 30 * time.Second})
	h := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), rl)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/worker_status", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}
	if rr := send(); rr.Code != http.StatusOK {
		t.Fatalf("first request = %d", rr.Code)
	}
	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote ipv4", "192.168.1.1:1234", "", "192.168.1.1"},
		{"remote ipv6", "[::1]:8080", "", "::1"},
		{"no port", "10.0.0.1", "", "10.0.0.1"},
		{"forwarded", "10.0.0.1:1", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name       string
		cfg        *corsConfig
		origin     string
		wantOrigin string
	}{
		{"permissive", &corsConfig{permissive: true}, "https://a.test", "*"},
		{"allowed exact", &corsConfig{allowedOrigins: []string{"https://a.test"}}, "https://a.test", "https://a.test"},
		{"allowed wildcard", &corsConfig{allowedOrigins: []string{"*.a.test"}}, "https://app.a.test", "https://app.a.test"},
		{"denied", &corsConfig{allowedOrigins: []string{"https://a.test"}}, "https://evil.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			withCORSConfig(next, tt.cfg).ServeHTTP(rr, req)
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rr := httptest.NewRecorder()
	withCORSConfig(next, &corsConfig{permissive: true}).ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight = %d, want 204", rr.Code)
	}
}
