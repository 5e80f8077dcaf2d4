package otelx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func remoteParent() context.Context {
	return trace.ContextWithRemoteSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5},
		TraceFlags: trace.FlagsSampled,
	}))
}

func TestCaptureAndResume(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	q := CaptureTrace(remoteParent())
	require.False(t, q.Empty())
	assert.Equal(t, "00-01020300000000000000000000000000-0405000000000000-01", q.Traceparent)

	sc := trace.SpanContextFromContext(q.Resume(context.Background()))
	assert.Equal(t, trace.TraceID{1, 2, 3}, sc.TraceID())
	assert.True(t, sc.IsRemote())
}

func TestEmptyTraceLeavesContextAlone(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	q := CaptureTrace(context.Background())
	assert.True(t, q.Empty())
	ctx := context.Background()
	assert.Equal(t, ctx, q.Resume(ctx))
}

func TestStartDrainParentsOnQueuedTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	q := CaptureTrace(remoteParent())
	_, span := StartDrain(context.Background(), q, "calendar.sync.task", time.Now().Add(-time.Minute))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, trace.TraceID{1, 2, 3}, spans[0].Parent().TraceID())
	assert.Equal(t, trace.SpanKindConsumer, spans[0].SpanKind())
	var waited bool
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "queue.wait_seconds" {
			waited = kv.Value.AsFloat64() >= 60
		}
	}
	assert.True(t, waited)
}
