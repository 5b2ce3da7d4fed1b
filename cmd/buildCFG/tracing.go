package buildCFG

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

type TracingConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

func BuildTracingConfig(cfg *config.Config) TracingConfig {
	tc := TracingConfig{
		OTLPEndpoint: cfg.GetString("tracing.otlp_endpoint"),
		ServiceName:  cfg.GetString("tracing.service_name"),
	}
	if tc.ServiceName == "" {
		tc.ServiceName = "guestlist"
	}
	return tc
}

// SetupTracing installs an OTLP/gRPC tracer provider. Without an endpoint the
// global no-op provider stays in place and the returned shutdown does nothing.
func SetupTracing(ctx context.Context, tc TracingConfig, log *zerolog.Logger) (func(context.Context) error, error) {
	if tc.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	exporter, err := otlptracegrpc.New(dialCtx,
		otlptracegrpc.WithEndpoint(tc.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(tc.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	log.Info().Str("endpoint", tc.OTLPEndpoint).Str("service", tc.ServiceName).Msg("tracing enabled")
	return tp.Shutdown, nil
}
