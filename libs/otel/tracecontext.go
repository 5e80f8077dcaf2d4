package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// QueuedTrace is the W3C trace position stored on a queued row (an outbox
// event, a calendar sync task) so the process that drains the row later
// continues the trace that enqueued it.
type QueuedTrace struct {
	Traceparent string
	Tracestate  string
}

// CaptureTrace records the span active in ctx. It is empty when ctx carries
// no sampled span or no propagator is installed.
func CaptureTrace(ctx context.Context) QueuedTrace {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return QueuedTrace{Traceparent: carrier["traceparent"], Tracestate: carrier["tracestate"]}
}

func (q QueuedTrace) Empty() bool { return q.Traceparent == "" }

// Resume returns ctx with the stored span as its remote parent.
func (q QueuedTrace) Resume(ctx context.Context) context.Context {
	if q.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": q.Traceparent}
	if q.Tracestate != "" {
		carrier["tracestate"] = q.Tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// StartDrain opens a consumer span for working one queued row. The span
// hangs off the enqueuing request and records how long the row waited
// since it became due.
func StartDrain(ctx context.Context, q QueuedTrace, name string, dueAt time.Time, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !dueAt.IsZero() {
		wait := time.Since(dueAt)
		if wait < 0 {
			wait = 0
		}
		attrs = append(attrs, attribute.Float64("queue.wait_seconds", wait.Seconds()))
	}
	return otel.Tracer("apptbook.queue").Start(q.Resume(ctx), name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)
}
