package config

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("RETENTION_ROOTS", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DataDir != "data" {
		t.Errorf("DataDir = %q, want data", cfg.DataDir)
	}
	if cfg.DBDsn != "file:"+filepath.Join("data", "chatlens.db") {
		t.Errorf("DBDsn = %q", cfg.DBDsn)
	}
	if cfg.MaxWorkers != 4 {
		t.Errorf("MaxWorkers = %d, want 4", cfg.MaxWorkers)
	}
	if cfg.Retention.MaxAgeDays != 30 || cfg.Retention.MaxEntrySizeMB != 500 || cfg.Retention.MaxRootQuotaMB != 5000 {
		t.Errorf("unexpected retention defaults: %+v", cfg.Retention)
	}
	wantRoots := []string{filepath.Join("data", "chats"), filepath.Join("data", "stream_data")}
	if !reflect.DeepEqual(cfg.Retention.Roots, wantRoots) {
		t.Errorf("Roots = %v, want %v", cfg.Retention.Roots, wantRoots)
	}
	if cfg.Pasta.MinLength != 10 || cfg.Pasta.Similarity != 0.8 {
		t.Errorf("unexpected pasta defaults: %+v", cfg.Pasta)
	}
	if cfg.JobRecordTTL != 7*24*time.Hour {
		t.Errorf("JobRecordTTL = %v", cfg.JobRecordTTL)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.UpstreamTimeout != 30*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 30s", cfg.UpstreamTimeout)
	}
	if !reflect.DeepEqual(cfg.Retention.Roots, []string{cfg.TranscriptDir(), cfg.StreamDir()}) {
		t.Errorf("Roots = %v, want the bucket dirs", cfg.Retention.Roots)
	}
}

func TestLoadTracing(t *testing.T) {
	for _, k := range []string{"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_TRACES_SAMPLER_ARG", "OTEL_SERVICE_NAME"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := TracingConfig{Insecure: true, SampleRatio: 1, ServiceName: "chatlens"}
	if cfg.Tracing != want {
		t.Errorf("Tracing = %+v, want %+v", cfg.Tracing, want)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	t.Setenv("OTEL_SERVICE_NAME", "chatlens-worker")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want = TracingConfig{Endpoint: "collector:4317", SampleRatio: 0.25, ServiceName: "chatlens-worker"}
	if cfg.Tracing != want {
		t.Errorf("Tracing = %+v, want %+v", cfg.Tracing, want)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", "/srv/chatlens")
	t.Setenv("STORE_CODEC", "ZSTD")
	t.Setenv("MAX_WORKERS", "8")
	t.Setenv("RETENTION_ROOTS", " /a, /b ,,")
	t.Setenv("RETENTION_MAX_ENTRY_MB", "12.5")
	t.Setenv("RETENTION_DRY_RUN", "1")
	t.Setenv("PASTA_SIMILARITY", "0.9")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.StoreCodec != "zstd" {
		t.Errorf("StoreCodec = %q, want zstd", cfg.StoreCodec)
	}
	if cfg.MaxWorkers != 8 {
		t.Errorf("MaxWorkers = %d, want 8", cfg.MaxWorkers)
	}
	if !reflect.DeepEqual(cfg.Retention.Roots, []string{"/a", "/b"}) {
		t.Errorf("Roots = %v", cfg.Retention.Roots)
	}
	if cfg.Retention.MaxEntrySizeMB != 12.5 || !cfg.Retention.DryRun {
		t.Errorf("unexpected retention: %+v", cfg.Retention)
	}
	if cfg.TranscriptDir() != filepath.Join("/srv/chatlens", "chats") {
		t.Errorf("TranscriptDir = %q", cfg.TranscriptDir())
	}
	if cfg.StreamDir() != filepath.Join("/srv/chatlens", "stream_data") {
		t.Errorf("StreamDir = %q", cfg.StreamDir())
	}
	if cfg.Pasta.Similarity != 0.9 {
		t.Errorf("Similarity = %v", cfg.Pasta.Similarity)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"MAX_WORKERS", "many"},
		{"MAX_WORKERS", "0"},
		{"STORE_CODEC", "gzip"},
		{"RETENTION_MAX_ROOT_MB", "lots"},
		{"JOB_RECORD_TTL", "7 days"},
		{"PASTA_SIMILARITY", "1.5"},
		{"UPSTREAM_TIMEOUT", "soon"},
		{"UPSTREAM_TIMEOUT", "0s"},
		{"OTEL_TRACES_SAMPLER_ARG", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q: expected error", tt.key, tt.value)
			}
		})
	}
}

func TestValidateCollectReady(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("CHAT_CLIENT_ID", "gql")
	t.Setenv("CHAT_CLIENT_SHA", "hash")
	cfg, _ := Load()
	if err := cfg.ValidateCollectReady(); err != nil {
		t.Errorf("expected valid collect config, got %v", err)
	}
	t.Setenv("CHAT_CLIENT_SHA", "")
	cfg, _ = Load()
	if err := cfg.ValidateCollectReady(); err == nil {
		t.Errorf("expected error when CHAT_CLIENT_SHA missing")
	}
}
