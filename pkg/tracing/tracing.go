package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/encoding/gzip"
)

// Config configures the OpenTelemetry exporter.
type Config struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	Attributes  map[string]string
	ServiceName string
	Version     string
}

// Init configures the global tracer provider and returns a shutdown hook.
// An empty endpoint leaves the global no-op provider in place.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithCompressor(gzip.Name),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	rattrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
	}
	if cfg.Version != "" {
		rattrs = append(rattrs, semconv.ServiceVersionKey.String(cfg.Version))
	}
	for k, v := range cfg.Attributes {
		rattrs = append(rattrs, attribute.String(k, v))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(rattrs...),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// ParseResourceAttributes reads the OTEL_RESOURCE_ATTRIBUTES "k=v,k2=v2" form.
func ParseResourceAttributes(raw string) map[string]string {
	attrs := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" || !strings.Contains(pair, "=") {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		attrs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return attrs
}
