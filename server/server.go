// Package server exposes the HTTP API: enqueueing collection and analysis jobs, polling job
// state, worker status, stored artifact download, health and metrics. Every request carries
// a correlation id for consistent logging.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chatlens/analytics"
	"github.com/onnwee/chatlens/store"
	"github.com/onnwee/chatlens/vod"
)

// Pipeline is the job pipeline as seen by the HTTP layer.
type Pipeline interface {
	EnqueueCollectAndPersist(ctx context.Context, broadcastID string) (string, error)
	EnqueueAnalyze(ctx context.Context, req analytics.Request) (string, error)
	GetJobState(ctx context.Context, jobID string) (*vod.JobState, error)
	Resubmit(ctx context.Context, jobID string) (string, error)
	ActiveJobCount() int
	MaxWorkers() int
	QueueDepth() int
}

// Deps are the collaborators of the HTTP handlers. DB may be nil when jobs are kept in memory.
type Deps struct {
	Pipeline Pipeline
	Store    *store.Store
	DB       *sql.DB
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	h := NewHandlers(deps)
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)

	mux.HandleFunc("POST /broadcasts", h.HandleEnqueueBroadcast)
	mux.HandleFunc("GET /broadcasts/{id}/file", h.HandleBroadcastFile)
	mux.HandleFunc("POST /analyses", h.HandleEnqueueAnalysis)
	mux.HandleFunc("GET /jobs/{id}", h.HandleJobState)
	mux.HandleFunc("POST /jobs/{id}/retry", h.HandleJobRetry)
	mux.Handle("GET /worker_status", rateLimitMiddleware(http.HandlerFunc(h.HandleWorkerStatus), limiter))

	return withCORSConfig(withCorrelation(mux), loadCORSConfig())
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
