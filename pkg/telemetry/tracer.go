package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps one span of orchestration work.
type Tracer interface {
	Start()
	WithAttribute(key, value string) Tracer
	AddEvent(name string, attributes map[string]string)
	SetStatus(code codes.Code, message string)
	Spawn(spanName string) Tracer
	End()
}

// TracerKey stores the active tracer in a context.
type TracerKey struct{}

// FromContext returns the tracer carried by ctx, or a no-op tracer.
func FromContext(ctx context.Context) Tracer {
	if t, ok := ctx.Value(TracerKey{}).(Tracer); ok {
		return t
	}
	return &DummyTracer{}
}

type spanTracer struct {
	tracer    trace.Tracer
	span      trace.Span
	tracerCtx context.Context
	spanName  string
	attrs     []attribute.KeyValue
	started   bool
}

func newSpanTracer(ctx context.Context, tracer trace.Tracer, spanName string) *spanTracer {
	return &spanTracer{
		tracer:    tracer,
		tracerCtx: ctx,
		spanName:  spanName,
	}
}

func (t *spanTracer) Start() {
	t.tracerCtx, t.span = t.tracer.Start(t.tracerCtx, t.spanName,
		trace.WithAttributes(t.attrs...))
	t.started = true
}

func (t *spanTracer) WithAttribute(key, value string) Tracer {
	kv := attribute.String(key, value)
	t.attrs = append(t.attrs, kv)
	if t.started {
		t.span.SetAttributes(kv)
	}
	return t
}

func (t *spanTracer) AddEvent(name string, attributes map[string]string) {
	if !t.started {
		return
	}
	kvs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		kvs = append(kvs, attribute.String(k, v))
	}
	t.span.AddEvent(name, trace.WithAttributes(kvs...))
}

func (t *spanTracer) SetStatus(code codes.Code, message string) {
	if t.started {
		t.span.SetStatus(code, message)
	}
}

func (t *spanTracer) Spawn(spanName string) Tracer {
	child := newSpanTracer(t.tracerCtx, t.tracer, spanName)
	child.attrs = append(child.attrs, t.attrs...)
	return child
}

func (t *spanTracer) End() {
	if t.started {
		t.span.End()
	}
}

// DummyTracer does nothing; used whenever telemetry is not enabled.
type DummyTracer struct{}

func (t *DummyTracer) Start()                                           {}
func (t *DummyTracer) WithAttribute(key, value string) Tracer           { return t }
func (t *DummyTracer) AddEvent(name string, attributes map[string]string) {}
func (t *DummyTracer) SetStatus(code codes.Code, message string)        {}
func (t *DummyTracer) Spawn(spanName string) Tracer                     { return t }
func (t *DummyTracer) End()                                             {}
