// Package obs wires up distributed tracing: one span per run, per
// target build, and per slot acquisition (spec.md's DESIGN NOTES call
// for process-wide state to be explicit, and the same applies to the
// observability surface threaded alongside it). Export is OTLP/gRPC
// when OTEL_EXPORTER_OTLP_ENDPOINT is set; otherwise spans are dropped
// by a no-op provider so the orchestrator never needs a conditional at
// every call site. This is deliberately export-only: the releaser
// never runs a tracing or control-plane service of its own.
package obs

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 5 * time.Second

// Provider wraps the process's tracer provider and its graceful
// shutdown.
type Provider struct {
	tp       *sdktrace.TracerProvider
	tracer   trace.Tracer
	exporter bool
}

// New builds a Provider. When OTEL_EXPORTER_OTLP_ENDPOINT is unset, the
// returned Provider's tracer is the global no-op tracer and Shutdown is
// a no-op, so callers never need to branch on whether tracing is
// configured.
func New(ctx context.Context, serviceVersion string) (*Provider, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return &Provider{tracer: otel.Tracer("releaser")}, nil
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("obs: creating OTLP exporter for %s: %w", endpoint, err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", "releaser"),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("obs: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer("releaser"), exporter: true}, nil
}

// Shutdown flushes and closes the exporter, if one was configured.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// StartRun opens the root span for one orchestrator invocation.
func (p *Provider) StartRun(ctx context.Context, runID, tool, version string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.tool", tool),
			attribute.String("run.version", version),
		),
	)
}

// StartTarget opens a child span for a single platform target's build.
func (p *Provider) StartTarget(ctx context.Context, platform, method string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "build_target",
		trace.WithAttributes(
			attribute.String("target.platform", platform),
			attribute.String("target.method", method),
		),
	)
}

// StartSlotAcquisition opens a child span around a selector slot
// acquisition attempt.
func (p *Provider) StartSlotAcquisition(ctx context.Context, host string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "acquire_slot", trace.WithAttributes(attribute.String("host", host)))
}

// StartHealthProbe opens a child span around a single host health
// probe.
func (p *Provider) StartHealthProbe(ctx context.Context, host string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "health_probe", trace.WithAttributes(attribute.String("host", host)))
}
