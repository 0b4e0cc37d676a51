package bootstrap

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"sigmalens/config"
)

// InitTracer installs the global tracer provider. Spans are sampled by
// ratio; no exporter is attached, so they feed span processors registered
// later. The returned function flushes and stops the provider.
func InitTracer(cfg *config.Config, sugar *zap.SugaredLogger) (func(context.Context) error, error) {
	if !cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.Tracing.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	sugar.Infow("Tracing enabled",
		"service_name", cfg.Tracing.ServiceName,
		"sample_ratio", cfg.Tracing.SampleRatio)
	return tp.Shutdown, nil
}
