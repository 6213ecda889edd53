package adapters

import (
	"context"
	"fmt"

	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ZanzyTHEbar/linkmem"

// OTelTracer implements the Tracer interface with OpenTelemetry spans.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer creates a tracer from the given provider, or the global
// provider when tp is nil.
func NewOTelTracer(tp trace.TracerProvider) *OTelTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelTracer{tracer: tp.Tracer(instrumentationName)}
}

func (t *OTelTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(toAttributes(attrs)...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (t *OTelTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attrs)...))
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, val))
		case bool:
			kvs = append(kvs, attribute.Bool(k, val))
		case int:
			kvs = append(kvs, attribute.Int(k, val))
		case int64:
			kvs = append(kvs, attribute.Int64(k, val))
		case float64:
			kvs = append(kvs, attribute.Float64(k, val))
		case []string:
			kvs = append(kvs, attribute.StringSlice(k, val))
		default:
			kvs = append(kvs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return kvs
}

// Ensure OTelTracer implements the Tracer interface.
var _ ports.Tracer = (*OTelTracer)(nil)
