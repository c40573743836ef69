// Command chatlens is the main entrypoint for the chat analytics API and its job workers.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the job database (Postgres or SQLite) and runs idempotent migrations.
//   - Recovers jobs interrupted by a previous shutdown and starts the worker pool.
//   - Runs the scheduled retention sweep over the artifact store.
//   - Exposes the HTTP API together with /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatlens/analytics"
	"github.com/onnwee/chatlens/config"
	"github.com/onnwee/chatlens/db"
	"github.com/onnwee/chatlens/retention"
	"github.com/onnwee/chatlens/server"
	"github.com/onnwee/chatlens/store"
	"github.com/onnwee/chatlens/telemetry"
	"github.com/onnwee/chatlens/twitchapi"
	"github.com/onnwee/chatlens/vod"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateCollectReady(); err != nil {
		slog.Warn("collection jobs will fail until credentials are configured", slog.Any("err", err))
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.Tracing)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Error("tracing shutdown failed", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Job records
	var (
		database *sql.DB
		jobs     vod.JobStore
	)
	if cfg.DBDsn == "memory" {
		slog.Warn("DB_DSN=memory: job records will not survive a restart")
		jobs = vod.NewMemoryJobStore()
	} else {
		var dialect db.Dialect
		database, dialect, err = db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("dialect", string(dialect)), slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database, dialect); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
		jobs = vod.NewSQLJobStore(database, dialect)
	}

	codec, err := store.ParseCodec(cfg.StoreCodec)
	if err != nil {
		slog.Error("invalid store codec", slog.Any("err", err))
		os.Exit(1)
	}
	artifacts := store.New(cfg.DataDir, codec)

	sweeper := retention.NewManager(retention.Policy{
		Roots:          cfg.Retention.Roots,
		MaxAgeDays:     cfg.Retention.MaxAgeDays,
		MaxEntrySizeMB: cfg.Retention.MaxEntrySizeMB,
		MaxRootQuotaMB: cfg.Retention.MaxRootQuotaMB,
		DryRun:         cfg.Retention.DryRun,
	})

	upstream := twitchapi.NewHTTPClient(cfg.UpstreamTimeout)
	sources := &vod.TwitchSources{
		Helix: &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret, HTTPClient: upstream},
			ClientID:       cfg.TwitchClientID,
			HTTPClient:     upstream,
		},
		GQL:    &twitchapi.GQLClient{ClientID: cfg.ChatClientID, SHA256Hash: cfg.ChatClientSHA, HTTPClient: upstream},
		Emotes: &twitchapi.EmoteClient{HTTPClient: upstream},
	}
	dispatcher := analytics.NewDispatcher(analytics.PastaOptions{
		MinLength:  cfg.Pasta.MinLength,
		Similarity: cfg.Pasta.Similarity,
	})

	pipeline := vod.New(cfg, artifacts, jobs, sources, sweeper, dispatcher)
	if cfg.RecoverOnStart {
		if err := pipeline.Recover(ctx); err != nil {
			slog.Error("job recovery failed", slog.Any("err", err))
		}
	}
	pipeline.Start(ctx)
	defer pipeline.Stop()

	go func() {
		prune := func(ctx context.Context) { pipeline.PruneJobs(ctx, cfg.JobRecordTTL) }
		if err := retention.StartRetentionJob(ctx, sweeper, cfg.Retention.Schedule, prune); err != nil {
			slog.Error("retention job failed to start", slog.Any("err", err))
		}
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	go func() {
		deps := server.Deps{Pipeline: pipeline, Store: artifacts, DB: database}
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
