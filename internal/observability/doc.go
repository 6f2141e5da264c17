// Package observability provides monitoring and debugging capabilities for
// the conversation layer through metrics, structured logging, and distributed
// tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// plus an in-memory event timeline for replaying what a stream did.
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - LLM API request latency and token usage per backend
//   - Normalized stream events
//   - Provider errors by failover reason
//   - Transcript defects found and repaired by the integrity validator
//   - Legacy history import outcomes
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success",
//	    time.Since(start).Seconds())
//	metrics.RecordTokens("anthropic", "claude-sonnet-4", inputTokens, outputTokens, 0, 0, 0)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	ctx = observability.AddRequestID(ctx, "req-123")
//	logger.Info(ctx, "stream opened", "provider", "openai", "model", "gpt-4o")
//
// # Tracing
//
// Tracing uses OpenTelemetry with an OTLP exporter. When no endpoint is
// configured the tracer is a no-op, so instrumented code needs no guards.
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "conduit",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceLLMRequest(ctx, "anthropic", "claude-sonnet-4")
//	defer span.End()
//
// # Event timeline
//
// The event timeline records stream lifecycle events, LLM calls, and repaired
// transcript defects keyed by request and stream id, with a bounded in-memory
// store for debugging:
//
//	store := observability.NewMemoryEventStore(10000)
//	recorder := observability.NewEventRecorder(store, logger)
//	recorder.RecordStreamStart(ctx, "google", "gemini-2.0-flash")
//
//	events, _ := store.GetByRequestID("req-123")
//	fmt.Println(observability.FormatTimeline(observability.BuildTimeline(events)))
package observability
