// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Malformed numeric or duration values are reported as errors rather than silently ignored.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chatlens/store"
)

type Config struct {
	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	ChatClientID       string
	ChatClientSHA      string
	// UpstreamTimeout bounds each request to Twitch and the emote providers.
	UpstreamTimeout time.Duration

	// Database; "memory" keeps job records in-process only.
	DBDsn string

	// Storage
	DataDir    string
	StoreCodec string

	// Workers
	MaxWorkers     int
	QueueSize      int
	MaxResubmits   int
	JobRecordTTL   time.Duration
	RecoverOnStart bool

	Retention RetentionConfig
	Pasta     PastaConfig
	Tracing   TracingConfig

	HTTPAddr string
}

// RetentionConfig bounds disk usage of the storage roots.
type RetentionConfig struct {
	Roots          []string
	MaxAgeDays     int
	MaxEntrySizeMB float64
	MaxRootQuotaMB float64
	Schedule       string
	DryRun         bool
}

// TracingConfig controls the OTLP trace exporter. An empty Endpoint disables tracing.
type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	ServiceName string
}

// PastaConfig tunes duplicate-message clustering.
type PastaConfig struct {
	MinLength  int
	Similarity float64
}

// Load reads environment variables and applies defaults. Twitch credentials are optional at load
// time; use ValidateCollectReady before starting collection jobs.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.ChatClientID = os.Getenv("CHAT_CLIENT_ID")
	cfg.ChatClientSHA = os.Getenv("CHAT_CLIENT_SHA")

	var err error
	if cfg.UpstreamTimeout, err = envDuration("UPSTREAM_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.UpstreamTimeout <= 0 {
		return nil, fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %v", cfg.UpstreamTimeout)
	}

	// Storage
	cfg.DataDir = envOr("DATA_DIR", "data")
	cfg.StoreCodec = strings.ToLower(envOr("STORE_CODEC", "json"))
	if cfg.StoreCodec != "json" && cfg.StoreCodec != "zstd" {
		return nil, fmt.Errorf("invalid STORE_CODEC %q (json|zstd)", cfg.StoreCodec)
	}

	// DB
	cfg.DBDsn = os.Getenv("DB_DSN")
	if cfg.DBDsn == "" {
		cfg.DBDsn = "file:" + filepath.Join(cfg.DataDir, "chatlens.db")
	}

	if cfg.MaxWorkers, err = envInt("MAX_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("MAX_WORKERS must be >= 1, got %d", cfg.MaxWorkers)
	}
	if cfg.QueueSize, err = envInt("QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.MaxResubmits, err = envInt("JOB_MAX_RESUBMITS", 3); err != nil {
		return nil, err
	}
	if cfg.JobRecordTTL, err = envDuration("JOB_RECORD_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	cfg.RecoverOnStart = os.Getenv("JOB_RECOVERY") != "0"

	// Retention
	r := &cfg.Retention
	r.Roots = []string{cfg.TranscriptDir(), cfg.StreamDir()}
	if v := os.Getenv("RETENTION_ROOTS"); v != "" {
		r.Roots = splitList(v)
	}
	if r.MaxAgeDays, err = envInt("RETENTION_MAX_AGE_DAYS", 30); err != nil {
		return nil, err
	}
	if r.MaxEntrySizeMB, err = envFloat("RETENTION_MAX_ENTRY_MB", 500); err != nil {
		return nil, err
	}
	if r.MaxRootQuotaMB, err = envFloat("RETENTION_MAX_ROOT_MB", 5000); err != nil {
		return nil, err
	}
	r.Schedule = envOr("RETENTION_SCHEDULE", "@every 6h")
	r.DryRun = os.Getenv("RETENTION_DRY_RUN") == "1"

	// Pasta clustering
	if cfg.Pasta.MinLength, err = envInt("PASTA_MIN_LENGTH", 10); err != nil {
		return nil, err
	}
	if cfg.Pasta.Similarity, err = envFloat("PASTA_SIMILARITY", 0.8); err != nil {
		return nil, err
	}
	if cfg.Pasta.Similarity < 0 || cfg.Pasta.Similarity > 1 {
		return nil, fmt.Errorf("PASTA_SIMILARITY must be within [0,1], got %v", cfg.Pasta.Similarity)
	}

	// Tracing
	t := &cfg.Tracing
	t.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	t.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "false"
	t.ServiceName = envOr("OTEL_SERVICE_NAME", "chatlens")
	if t.SampleRatio, err = envFloat("OTEL_TRACES_SAMPLER_ARG", 1); err != nil {
		return nil, err
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return nil, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within [0,1], got %v", t.SampleRatio)
	}

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")

	return cfg, nil
}

// ValidateCollectReady checks the credentials the collection collaborators need.
func (c *Config) ValidateCollectReady() error {
	var missing []string
	if c.TwitchClientID == "" {
		missing = append(missing, "TWITCH_CLIENT_ID")
	}
	if c.TwitchClientSecret == "" {
		missing = append(missing, "TWITCH_CLIENT_SECRET")
	}
	if c.ChatClientID == "" {
		missing = append(missing, "CHAT_CLIENT_ID")
	}
	if c.ChatClientSHA == "" {
		missing = append(missing, "CHAT_CLIENT_SHA")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing twitch env: require %s", strings.Join(missing, ", "))
	}
	return nil
}

// TranscriptDir is the raw transcript bucket root.
func (c *Config) TranscriptDir() string { return filepath.Join(c.DataDir, string(store.Transcripts)) }

// StreamDir is the composed stream record bucket root.
func (c *Config) StreamDir() string { return filepath.Join(c.DataDir, string(store.Streams)) }

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
