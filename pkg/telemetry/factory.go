package telemetry

import (
	"context"

	"go.uber.org/fx"
)

// TracerFactory hands out tracers, falling back to no-op tracers when
// telemetry is disabled.
type TracerFactory struct {
	telemetry Telemetry
}

type TracerFactoryParams struct {
	fx.In
	Telemetry Telemetry `optional:"true"`
}

func NewTracerFactory(p TracerFactoryParams) *TracerFactory {
	return &TracerFactory{telemetry: p.Telemetry}
}

func (t *TracerFactory) NewTracer(ctx context.Context, spanName string) Tracer {
	if t.telemetry == nil || t.telemetry.GetTracer() == nil {
		return &DummyTracer{}
	}
	return newSpanTracer(ctx, t.telemetry.GetTracer(), spanName)
}
