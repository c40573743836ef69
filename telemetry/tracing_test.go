package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/onnwee/chatlens/config"
)

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{1.5, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.ratio).Description(); !strings.Contains(got, tt.want) {
			t.Errorf("samplerFor(%v) = %q, want it to contain %q", tt.ratio, got, tt.want)
		}
	}
}

func TestServiceVersion(t *testing.T) {
	if v := ServiceVersion(); v == "" {
		t.Fatal("expected a non-empty service version")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{ServiceName: "chatlens", SampleRatio: 1})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func hasAttr(attrs []attribute.KeyValue, key, want string) bool {
	for _, kv := range attrs {
		if string(kv.Key) == key && kv.Value.Emit() == want {
			return true
		}
	}
	return false
}

func TestStartSpanFinishSpan(t *testing.T) {
	sr := recordSpans(t)
	ctx := WithCorrelation(context.Background(), "corr-1")

	_, good := StartSpan(ctx, "job.collect", JobAttrs("j1", "collect", "42")...)
	FinishSpan(good, nil)
	good.End()

	_, bad := StartSpan(context.Background(), "job.analyze")
	FinishSpan(bad, errors.New("boom"))
	bad.End()

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if !hasAttr(spans[0].Attributes(), "correlation_id", "corr-1") {
		t.Errorf("missing correlation_id attribute: %v", spans[0].Attributes())
	}
	if !hasAttr(spans[0].Attributes(), "broadcast.id", "42") {
		t.Errorf("missing broadcast.id attribute: %v", spans[0].Attributes())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status().Code)
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "boom" {
		t.Errorf("status = %+v, want Error boom", spans[1].Status())
	}
	if len(spans[1].Events()) == 0 {
		t.Error("expected the error to be recorded as an event")
	}
}

func TestFinishHTTPSpan(t *testing.T) {
	sr := recordSpans(t)

	_, routed := StartSpan(context.Background(), "GET /jobs/abc")
	FinishHTTPSpan(routed, http.MethodGet, "GET /jobs/{id}", http.StatusNotFound)
	routed.End()

	_, unrouted := StartSpan(context.Background(), "GET /nope")
	FinishHTTPSpan(unrouted, http.MethodGet, "", http.StatusOK)
	unrouted.End()

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "GET /jobs/{id}" {
		t.Errorf("name = %q, want route pattern", spans[0].Name())
	}
	if !hasAttr(spans[0].Attributes(), "http.response.status_code", "404") {
		t.Errorf("missing status attribute: %v", spans[0].Attributes())
	}
	if spans[0].Status().Code != codes.Error || spans[0].Status().Description != "HTTP 404" {
		t.Errorf("status = %+v, want Error HTTP 404", spans[0].Status())
	}
	if spans[1].Name() != http.MethodGet {
		t.Errorf("name = %q, want method only", spans[1].Name())
	}
	if spans[1].Status().Code != codes.Unset {
		t.Errorf("status = %v, want Unset", spans[1].Status().Code)
	}
}
