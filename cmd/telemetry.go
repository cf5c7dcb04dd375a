package cmd

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ligolabs/ligo/internal/config"
)

// initTelemetry sets the global tracer provider when OTLP export is
// configured. Returns the shutdown func, or nil when disabled. Spans
// are recorded regardless; without an exporter they go nowhere.
func initTelemetry(ctx context.Context, cfg config.TelemetryConfig) func(context.Context) error {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil
	}

	var opts []otlptracehttp.Option
	if strings.Contains(cfg.Endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		slog.Warn("telemetry disabled: exporter init failed", "error", err)
		return nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "ligo"
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("telemetry enabled", "endpoint", cfg.Endpoint, "service", name)
	return tp.Shutdown
}
