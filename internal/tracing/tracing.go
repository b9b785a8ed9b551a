// Package tracing provides OpenTelemetry span instrumentation for job
// runs: one span per job run and one per node, rather than a generic
// per-event span with arbitrary metadata.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "qaflow"

// Setup installs a TracerProvider and returns a shutdown func to be
// deferred by main. With no exporter wired, spans are created but not
// exported anywhere — which is still useful locally via the SDK's
// in-process sampling decisions and keeps the call sites identical once
// an exporter is added.
func Setup(serviceName string) (shutdown func(context.Context) error) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer wraps an otel.Tracer with the job/node span helpers the worker
// uses.
type Tracer struct {
	tracer trace.Tracer
}

func New() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// StartJob opens a span covering one job's entire run.
func (t *Tracer) StartJob(ctx context.Context, requestID, sessionID string) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("qaflow.request_id", requestID),
		attribute.String("qaflow.session_id", sessionID),
	))
	return ctx, func(err error) { endSpan(span, err) }
}

// StartNode opens a span covering one graph node's execution.
func (t *Tracer) StartNode(ctx context.Context, nodeID string, attempt int) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "node."+nodeID, trace.WithAttributes(
		attribute.String("qaflow.node_id", nodeID),
		attribute.Int("qaflow.attempt", attempt),
	))
	return ctx, func(err error) { endSpan(span, err) }
}

// RecordLatency attaches a duration attribute without opening a new span,
// for call sites that already have a start time and only want the
// measurement recorded (e.g. node latency read back from metrics).
func RecordLatency(span trace.Span, d time.Duration) {
	span.SetAttributes(attribute.Int64("qaflow.latency_ms", d.Milliseconds()))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(fmt.Errorf("%w", err))
	}
	span.End()
}
