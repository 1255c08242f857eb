// Package observability wires distributed tracing into Genkit's
// TracerProvider.
//
// Spans are exported over OTLP HTTP to a local collector agent
// (localhost:4318 by default). The agent owns authentication, buffering and
// forwarding to whatever backend operators run, so the service never
// carries backend credentials. A failed exporter disables tracing with a
// warning instead of failing startup.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultEndpoint is the conventional local collector OTLP HTTP endpoint.
const DefaultEndpoint = "localhost:4318"

// Config for trace export.
type Config struct {
	// Endpoint is the collector OTLP HTTP endpoint as host:port.
	// DefaultEndpoint when empty.
	Endpoint string

	// Service is the service name reported on every span.
	Service string

	// Environment tags spans with deployment.environment when set.
	Environment string
}

// Setup registers an OTLP span exporter with Genkit's TracerProvider, so
// the flow, model and tool spans Genkit already records are exported.
// It must run before genkit.Init so the processor sees the first spans.
//
// The returned shutdown flushes pending spans; call it during teardown.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Genkit's TracerProvider reads service identity from the OTEL env
	// vars. SAFETY: os.Setenv is not concurrent-safe, but Setup runs
	// exactly once during startup before goroutines are spawned.
	if cfg.Service != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.Service)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		slog.Warn("creating trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	slog.Debug("trace export enabled",
		"endpoint", endpoint,
		"service", cfg.Service,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
