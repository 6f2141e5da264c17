// Package telemetry binds the observability stack to the reporting hooks
// exposed by the conversation layer. It implements agent.DefectReporter and
// providers.ErrorReporter so repairs and normalized provider failures flow
// into logs, metrics, spans, and the event timeline from one place.
package telemetry

import (
	"context"
	"time"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/agent/providers"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Telemetry fans reports out to the configured sinks. Every field is
// optional; a zero Telemetry is a valid no-op reporter.
type Telemetry struct {
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	recorder *observability.EventRecorder
}

// Option configures a Telemetry.
type Option func(*Telemetry)

// WithLogger routes reports to the structured logger.
func WithLogger(logger *observability.Logger) Option {
	return func(t *Telemetry) { t.logger = logger }
}

// WithMetrics routes reports to the Prometheus metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(t *Telemetry) { t.metrics = metrics }
}

// WithTracer attaches span events to active spans.
func WithTracer(tracer *observability.Tracer) Option {
	return func(t *Telemetry) { t.tracer = tracer }
}

// WithRecorder routes reports into the debug event timeline.
func WithRecorder(recorder *observability.EventRecorder) Option {
	return func(t *Telemetry) { t.recorder = recorder }
}

// New creates a Telemetry with the given sinks.
func New(opts ...Option) *Telemetry {
	t := &Telemetry{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var (
	_ agent.DefectReporter    = (*Telemetry)(nil)
	_ providers.ErrorReporter = (*Telemetry)(nil)
)

// ReportDefect records one repaired transcript inconsistency. Reporting is
// fire-and-forget; sink failures are swallowed.
func (t *Telemetry) ReportDefect(ctx context.Context, defect agent.ProtocolDefect) {
	kind := string(defect.Kind)

	if t.logger != nil {
		t.logger.Warn(ctx, "transcript defect repaired",
			"kind", kind,
			"call_ids", defect.CallIDs,
			"result_ids", defect.ResultIDs,
			"repaired_ids", defect.RepairedIDs,
		)
	}
	if t.metrics != nil {
		t.metrics.RecordProtocolDefect(kind)
	}
	if t.tracer != nil {
		if span := observability.SpanFromContext(ctx); span.IsRecording() {
			t.tracer.AddEvent(span, "transcript_defect",
				"kind", kind,
				"repaired_ids", defect.RepairedIDs,
			)
		}
	}
	if t.recorder != nil {
		_ = t.recorder.RecordDefect(ctx, kind, map[string]any{
			"call_ids":     defect.CallIDs,
			"result_ids":   defect.ResultIDs,
			"repaired_ids": defect.RepairedIDs,
		})
	}
}

// ReportProviderError records one normalized provider failure.
func (t *Telemetry) ReportProviderError(ctx context.Context, provider, model, operation string, err *providers.ProviderError) {
	if err == nil {
		return
	}
	reason := string(err.Reason)

	if t.logger != nil {
		t.logger.Error(ctx, "provider request failed",
			"provider", provider,
			"model", model,
			"operation", operation,
			"reason", reason,
			"status", err.Status,
			"code", err.Code,
			"provider_request_id", err.RequestID,
			"error", err.Message,
		)
	}
	if t.metrics != nil {
		t.metrics.RecordProviderError(provider, model, reason)
	}
	if t.tracer != nil {
		if span := observability.SpanFromContext(ctx); span.IsRecording() {
			t.tracer.RecordError(span, err)
			t.tracer.SetAttributes(span,
				"llm.provider", provider,
				"llm.model", model,
				"error.reason", reason,
			)
		}
	}
	if t.recorder != nil {
		_ = t.recorder.RecordError(ctx, observability.EventTypeLLMError, operation, err, map[string]any{
			"provider": provider,
			"model":    model,
			"reason":   reason,
			"status":   err.Status,
		})
	}
}

// RecordStreamEvent counts one normalized stream event by type.
func (t *Telemetry) RecordStreamEvent(ctx context.Context, provider string, event *models.StreamEvent) {
	if event == nil {
		return
	}
	if t.metrics != nil {
		t.metrics.RecordStreamEvent(provider, string(event.Type))
	}
}

// RecordUsage records token consumption for one completed request.
func (t *Telemetry) RecordUsage(ctx context.Context, provider, model string, usage models.TokenUsage) {
	if t.metrics != nil {
		t.metrics.RecordTokens(provider, model,
			usage.InputTokens,
			usage.OutputTokens,
			usage.CacheReadTokens,
			usage.CacheWriteTokens,
			usage.ReasoningTokens,
		)
	}
	if t.logger != nil {
		t.logger.Debug(ctx, "token usage",
			"provider", provider,
			"model", model,
			"input_tokens", usage.InputTokens,
			"output_tokens", usage.OutputTokens,
			"cache_read_tokens", usage.CacheReadTokens,
			"reasoning_tokens", usage.ReasoningTokens,
		)
	}
}

// RecordImport records the outcome of one legacy transcript import.
func (t *Telemetry) RecordImport(ctx context.Context, entries, imported int, duration time.Duration) {
	dropped := entries - imported
	if t.metrics != nil {
		for i := 0; i < imported; i++ {
			t.metrics.RecordImportOutcome("imported")
		}
		for i := 0; i < dropped; i++ {
			t.metrics.RecordImportOutcome("dropped")
		}
	}
	if t.logger != nil {
		t.logger.Info(ctx, "legacy history imported",
			"entries", entries,
			"imported", imported,
			"dropped", dropped,
			"duration", duration,
		)
	}
	if t.recorder != nil {
		_ = t.recorder.RecordImport(ctx, entries, imported, duration)
	}
}

// RecordStream wraps the stream lifecycle sinks: call it when a stream
// closes with its duration and terminal error, if any.
func (t *Telemetry) RecordStream(ctx context.Context, provider, model string, durationSeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	if t.metrics != nil {
		t.metrics.RecordLLMRequest(provider, model, status, durationSeconds)
	}
	if t.recorder != nil {
		duration := time.Duration(durationSeconds * float64(time.Second))
		_ = t.recorder.RecordStreamEnd(ctx, provider, duration, err)
	}
}
