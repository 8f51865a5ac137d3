package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/operion-monitor/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns an OTLP tracer when enabled and a no-op tracer otherwise.
// Exporter setup failures fall back to the no-op tracer.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, logger *slog.Logger, enabled bool, serviceName string) (trace.Tracer, otelhelper.ShutdownFunc) {
	noopShutdown := func(context.Context) error { return nil }

	if !enabled {
		return otelhelper.NoopTracer(), noopShutdown
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Failed to set up tracing, continuing without it", "error", err)

		return otelhelper.NoopTracer(), noopShutdown
	}

	return tracer, shutdown
}
