package adapters

import (
	"bytes"
	"context"
	"errors"
	"testing"

	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestZerologTracerSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finish := tracer.StartSpan(context.Background(), "context.set", map[string]any{"agent_id": "a1"})
	tracer.Event(ctx, "merged", map[string]any{"fields": 2})
	finish(nil)

	out := buf.String()
	assert.Contains(t, out, `"span":"context.set"`)
	assert.Contains(t, out, `"agent_id":"a1"`)
	assert.Contains(t, out, `"event":"span_start"`)
	assert.Contains(t, out, `"event":"merged"`)
	assert.Contains(t, out, `"event":"span_end"`)
	assert.NotContains(t, out, `"level":"error"`)
}

func TestZerologTracerSpanError(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.InfoLevel))

	_, finish := tracer.StartSpan(context.Background(), "history.append", nil)
	finish(errors.New("connection reset"))

	out := buf.String()
	assert.NotContains(t, out, "span_start")
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, "connection reset")
}

func TestZerologTracerEventWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	tracer.Event(context.Background(), "orphan", nil)
	assert.Contains(t, buf.String(), `"event":"orphan"`)
	assert.NotContains(t, buf.String(), `"span"`)
}

func newRecordingTracer() (*OTelTracer, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return NewOTelTracer(tp), exporter
}

func TestOTelTracerSpan(t *testing.T) {
	tracer, exporter := newRecordingTracer()

	ctx, finish := tracer.StartSpan(context.Background(), "presence.set", map[string]any{
		"agent_id": "a1",
		"ttl_ms":   int64(60000),
		"online":   true,
	})
	tracer.Event(ctx, "lease_written", map[string]any{"status": "online"})
	finish(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "presence.set", span.Name)
	assert.Equal(t, trace.SpanKindClient, span.SpanKind)
	assert.Equal(t, codes.Unset, span.Status.Code)
	assert.Contains(t, span.Attributes, attribute.String("agent_id", "a1"))
	assert.Contains(t, span.Attributes, attribute.Int64("ttl_ms", 60000))
	assert.Contains(t, span.Attributes, attribute.Bool("online", true))
	require.Len(t, span.Events, 1)
	assert.Equal(t, "lease_written", span.Events[0].Name)
}

func TestOTelTracerSpanError(t *testing.T) {
	tracer, exporter := newRecordingTracer()

	_, finish := tracer.StartSpan(context.Background(), "snapshot.create", nil)
	finish(errors.New("boom"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "boom", spans[0].Status.Description)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestToAttributesFallsBackToString(t *testing.T) {
	kvs := toAttributes(map[string]any{"limit": uint8(7), "keys": []string{"a", "b"}})
	assert.Contains(t, kvs, attribute.String("limit", "7"))
	assert.Contains(t, kvs, attribute.StringSlice("keys", []string{"a", "b"}))
}

func TestNoopTracer(t *testing.T) {
	var tracer ports.Tracer = ports.NoopTracer{}
	ctx := context.Background()
	got, finish := tracer.StartSpan(ctx, "x", nil)
	assert.Equal(t, ctx, got)
	finish(errors.New("ignored"))
	tracer.Event(ctx, "x", nil)
}
