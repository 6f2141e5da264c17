package telemetry

import (
	"context"

	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/observability"
)

// FromConfig assembles the telemetry stack described by cfg. The returned
// shutdown function flushes the trace exporter and must be called on exit.
// Disabled sinks are simply omitted; the result is always usable.
func FromConfig(cfg *config.Config) (*Telemetry, func(context.Context) error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	opts := []Option{WithLogger(logger)}

	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, WithMetrics(observability.NewMetrics()))
	}

	shutdown := func(context.Context) error { return nil }
	if tc := cfg.Observability.Tracing; tc.Enabled {
		tracer, stop := observability.NewTracer(observability.TraceConfig{
			ServiceName:    tc.ServiceName,
			ServiceVersion: tc.ServiceVersion,
			Environment:    tc.Environment,
			Endpoint:       tc.Endpoint,
			SamplingRate:   tc.SamplingRate,
			Attributes:     tc.Attributes,
			EnableInsecure: tc.Insecure,
		})
		shutdown = stop
		opts = append(opts, WithTracer(tracer))
	}

	if ec := cfg.Observability.Events; ec.Enabled {
		store := observability.NewMemoryEventStore(ec.MaxEvents)
		opts = append(opts, WithRecorder(observability.NewEventRecorder(store, logger)))
	}

	return New(opts...), shutdown
}
