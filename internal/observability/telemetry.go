// Package observability wires structured logging, OpenTelemetry tracing,
// Prometheus metrics, and health endpoints for the service.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	serviceName = "unsafe-track"

	// shutdownTimeout bounds the final telemetry flush.
	shutdownTimeout = 10 * time.Second
)

// Config controls telemetry initialization.
type Config struct {
	// ServiceVersion is reported as the service.version resource attribute.
	ServiceVersion string

	// OTLPEndpoint is the gRPC endpoint traces are exported to. Empty
	// disables tracing export entirely.
	OTLPEndpoint string

	// LogLevel is one of debug, info, warn, error. Empty means info.
	LogLevel string

	// LogJSON selects JSON log output instead of text.
	LogJSON bool
}

// Shutdown flushes pending telemetry. Call it before process exit.
type Shutdown func(ctx context.Context) error

// Init installs the global slog logger and, when an OTLP endpoint is
// configured, the global tracer provider. The returned Shutdown is
// always non-nil.
func Init(cfg Config) (Shutdown, error) {
	slog.SetDefault(buildLogger(cfg))

	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	provider, err := buildTracerProvider(cfg)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		shutdownErr := provider.Shutdown(ctx)
		if shutdownErr != nil {
			return fmt.Errorf("shutdown tracer provider: %w", shutdownErr)
		}

		return nil
	}, nil
}

func buildLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildTracerProvider(cfg Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}
