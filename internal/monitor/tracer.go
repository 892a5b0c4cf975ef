package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "scriptbox"

// Tracer wraps OpenTelemetry tracing for the script runtime.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("scriptbox.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// Common attribute keys for run tracing.
var (
	AttrTaskID     = attribute.Key("scriptbox.task.id")
	AttrBackend    = attribute.Key("scriptbox.backend")
	AttrStatus     = attribute.Key("scriptbox.status")
	AttrToolPath   = attribute.Key("scriptbox.tool.path")
	AttrDurationMS = attribute.Key("scriptbox.duration_ms")
)
