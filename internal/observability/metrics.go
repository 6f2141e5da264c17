package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance and response times per backend
//   - Token consumption, including cache and reasoning tokens
//   - Stream events flowing through the normalizer
//   - Normalized provider errors by failover reason
//   - Transcript defects found and repaired by the integrity validator
//   - Legacy history import outcomes
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", time.Since(start).Seconds())
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai|google|bedrock), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output|cache_read|cache_write|reasoning)
	LLMTokensUsed *prometheus.CounterVec

	// StreamEventCounter counts normalized stream events.
	// Labels: provider, event_type
	StreamEventCounter *prometheus.CounterVec

	// ProviderErrorCounter tracks normalized provider errors.
	// Labels: provider, model, reason (rate_limit|auth|server_error|...)
	ProviderErrorCounter *prometheus.CounterVec

	// ProtocolDefectCounter tracks transcript inconsistencies found by the
	// integrity validator.
	// Labels: kind (missing_result|id_mismatch|duplicate_result|orphan_result)
	ProtocolDefectCounter *prometheus.CounterVec

	// ImportCounter counts legacy history entries by import outcome.
	// Labels: outcome (imported|dropped)
	ImportCounter *prometheus.CounterVec

	// ActiveStreams is a gauge tracking currently open provider streams.
	// Labels: provider
	ActiveStreams *prometheus.GaugeVec

	// StreamDuration measures how long a provider stream stayed open.
	// Labels: provider
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s
	StreamDuration *prometheus.HistogramVec
}

// NewMetrics creates all Prometheus metrics and registers them with the
// default registry. This should be called once at application startup; the
// metrics become available at the /metrics endpoint when using the
// prometheus HTTP handler.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates all metrics against the given registerer.
// Tests use this with an isolated registry to avoid duplicate registration.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		StreamEventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_stream_events_total",
				Help: "Total number of normalized stream events by provider and event type",
			},
			[]string{"provider", "event_type"},
		),

		ProviderErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_provider_errors_total",
				Help: "Total number of normalized provider errors by failover reason",
			},
			[]string{"provider", "model", "reason"},
		),

		ProtocolDefectCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_protocol_defects_total",
				Help: "Total number of transcript defects repaired by the integrity validator",
			},
			[]string{"kind"},
		),

		ImportCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_history_import_entries_total",
				Help: "Total number of legacy history entries by import outcome",
			},
			[]string{"outcome"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conduit_active_streams",
				Help: "Current number of open provider streams",
			},
			[]string{"provider"},
		),

		StreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_stream_duration_seconds",
				Help:    "Duration of provider streams in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),
	}
}

// RecordLLMRequest records request count and latency for one LLM call.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", time.Since(start).Seconds())
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordTokens records token consumption for one request. Zero counts are
// skipped so providers that don't report a given type produce no series.
func (m *Metrics) RecordTokens(provider, model string, input, output, cacheRead, cacheWrite, reasoning int) {
	if input > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(input))
	}
	if output > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(output))
	}
	if cacheRead > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "cache_read").Add(float64(cacheRead))
	}
	if cacheWrite > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "cache_write").Add(float64(cacheWrite))
	}
	if reasoning > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "reasoning").Add(float64(reasoning))
	}
}

// RecordStreamEvent increments the event counter for one normalized event.
func (m *Metrics) RecordStreamEvent(provider, eventType string) {
	m.StreamEventCounter.WithLabelValues(provider, eventType).Inc()
}

// RecordProviderError increments the error counter for a normalized error.
//
// Example:
//
//	metrics.RecordProviderError("openai", "gpt-4o", "rate_limit")
func (m *Metrics) RecordProviderError(provider, model, reason string) {
	m.ProviderErrorCounter.WithLabelValues(provider, model, reason).Inc()
}

// RecordProtocolDefect increments the defect counter for a repaired
// transcript inconsistency.
func (m *Metrics) RecordProtocolDefect(kind string) {
	m.ProtocolDefectCounter.WithLabelValues(kind).Inc()
}

// RecordImportOutcome increments the import counter for one legacy entry.
func (m *Metrics) RecordImportOutcome(outcome string) {
	m.ImportCounter.WithLabelValues(outcome).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *Metrics) StreamStarted(provider string) {
	m.ActiveStreams.WithLabelValues(provider).Inc()
}

// StreamEnded decrements the active streams gauge and records the stream
// lifetime.
func (m *Metrics) StreamEnded(provider string, durationSeconds float64) {
	m.ActiveStreams.WithLabelValues(provider).Dec()
	m.StreamDuration.WithLabelValues(provider).Observe(durationSeconds)
}
