package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/agent/providers"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/pkg/models"
)

func newTestTelemetry(buf *bytes.Buffer) (*Telemetry, *observability.Metrics, *observability.MemoryEventStore) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  "debug",
		Format: "json",
		Output: buf,
	})
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	store := observability.NewMemoryEventStore(100)
	recorder := observability.NewEventRecorder(store, nil)

	tel := New(
		WithLogger(logger),
		WithMetrics(metrics),
		WithRecorder(recorder),
	)
	return tel, metrics, store
}

func TestReportDefect(t *testing.T) {
	var buf bytes.Buffer
	tel, metrics, store := newTestTelemetry(&buf)

	ctx := observability.AddRequestID(context.Background(), "req-1")
	tel.ReportDefect(ctx, agent.ProtocolDefect{
		Kind:        agent.DefectMissingResult,
		CallIDs:     []string{"call_1"},
		RepairedIDs: []string{"call_1"},
	})

	out := buf.String()
	if !strings.Contains(out, "missing_result") {
		t.Error("expected defect kind in log output")
	}
	if !strings.Contains(out, "call_1") {
		t.Error("expected call id in log output")
	}

	if got := testutil.ToFloat64(metrics.ProtocolDefectCounter.WithLabelValues("missing_result")); got != 1 {
		t.Errorf("defect counter = %v, want 1", got)
	}

	events, _ := store.GetByRequestID("req-1")
	if len(events) != 1 || events[0].Type != observability.EventTypeDefect {
		t.Errorf("timeline events = %+v, want one defect event", events)
	}
}

func TestReportProviderError(t *testing.T) {
	var buf bytes.Buffer
	tel, metrics, store := newTestTelemetry(&buf)

	pe := providers.NewProviderError("openai", "gpt-4o", errors.New("rate limited")).
		WithStatus(429)

	ctx := observability.AddRequestID(context.Background(), "req-2")
	tel.ReportProviderError(ctx, "openai", "gpt-4o", "stream", pe)

	out := buf.String()
	if !strings.Contains(out, "rate_limit") {
		t.Error("expected failover reason in log output")
	}
	if !strings.Contains(out, "stream") {
		t.Error("expected operation in log output")
	}

	if got := testutil.ToFloat64(metrics.ProviderErrorCounter.WithLabelValues("openai", "gpt-4o", "rate_limit")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}

	events, _ := store.GetByRequestID("req-2")
	if len(events) != 1 || events[0].Type != observability.EventTypeLLMError {
		t.Errorf("timeline events = %+v, want one llm.error event", events)
	}
}

func TestReportProviderErrorNil(t *testing.T) {
	var buf bytes.Buffer
	tel, _, _ := newTestTelemetry(&buf)

	// nil errors must not be recorded anywhere
	tel.ReportProviderError(context.Background(), "openai", "gpt-4o", "stream", nil)
	if buf.Len() != 0 {
		t.Error("nil error should produce no log output")
	}
}

func TestRecordUsage(t *testing.T) {
	var buf bytes.Buffer
	tel, metrics, _ := newTestTelemetry(&buf)

	tel.RecordUsage(context.Background(), "anthropic", "claude-sonnet-4", models.TokenUsage{
		InputTokens:     100,
		OutputTokens:    40,
		CacheReadTokens: 80,
	})

	if got := testutil.ToFloat64(metrics.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4", "input")); got != 100 {
		t.Errorf("input tokens = %v, want 100", got)
	}
	if got := testutil.ToFloat64(metrics.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4", "cache_read")); got != 80 {
		t.Errorf("cache read tokens = %v, want 80", got)
	}
}

func TestRecordStream(t *testing.T) {
	var buf bytes.Buffer
	tel, metrics, store := newTestTelemetry(&buf)

	ctx := observability.AddStreamID(context.Background(), "s-1")
	tel.RecordStream(ctx, "google", "gemini-2.0-flash", 1.5, nil)
	tel.RecordStream(ctx, "google", "gemini-2.0-flash", 0.2, errors.New("overloaded"))

	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("google", "gemini-2.0-flash", "success")); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("google", "gemini-2.0-flash", "error")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}

	events, _ := store.GetByStreamID("s-1")
	if len(events) != 2 {
		t.Fatalf("timeline events = %d, want 2", len(events))
	}
}

func TestRecordStreamEvent(t *testing.T) {
	var buf bytes.Buffer
	tel, metrics, _ := newTestTelemetry(&buf)

	ctx := context.Background()
	tel.RecordStreamEvent(ctx, "anthropic", &models.StreamEvent{Type: models.EventText})
	tel.RecordStreamEvent(ctx, "anthropic", &models.StreamEvent{Type: models.EventText})
	tel.RecordStreamEvent(ctx, "anthropic", &models.StreamEvent{Type: models.EventToolCallStart})
	tel.RecordStreamEvent(ctx, "anthropic", nil)

	if got := testutil.ToFloat64(metrics.StreamEventCounter.WithLabelValues("anthropic", "text")); got != 2 {
		t.Errorf("text events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.StreamEventCounter.WithLabelValues("anthropic", "tool_call_start")); got != 1 {
		t.Errorf("tool_call_start events = %v, want 1", got)
	}
}

func TestRecordImport(t *testing.T) {
	var buf bytes.Buffer
	tel, metrics, store := newTestTelemetry(&buf)

	ctx := observability.AddRequestID(context.Background(), "req-3")
	tel.RecordImport(ctx, 5, 3, 120*time.Millisecond)

	if got := testutil.ToFloat64(metrics.ImportCounter.WithLabelValues("imported")); got != 3 {
		t.Errorf("imported counter = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.ImportCounter.WithLabelValues("dropped")); got != 2 {
		t.Errorf("dropped counter = %v, want 2", got)
	}

	events, _ := store.GetByRequestID("req-3")
	if len(events) != 1 {
		t.Fatalf("timeline events = %d, want 1", len(events))
	}
	if !strings.Contains(buf.String(), "legacy history imported") {
		t.Error("expected import log line")
	}
}

func TestZeroTelemetryIsNoOp(t *testing.T) {
	var tel Telemetry

	// None of these may panic with no sinks configured.
	tel.ReportDefect(context.Background(), agent.ProtocolDefect{Kind: agent.DefectOrphanResult})
	tel.ReportProviderError(context.Background(), "openai", "gpt-4o", "stream",
		providers.NewProviderError("openai", "gpt-4o", errors.New("boom")))
	tel.RecordUsage(context.Background(), "openai", "gpt-4o", models.TokenUsage{InputTokens: 1})
	tel.RecordStream(context.Background(), "openai", "gpt-4o", 1, nil)
	tel.RecordImport(context.Background(), 2, 2, time.Second)
	tel.RecordStreamEvent(context.Background(), "openai", &models.StreamEvent{Type: models.EventText})
}
