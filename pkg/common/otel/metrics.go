package otel

import (
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopTracer returns a tracer that records nothing. Handy in tests and when
// a component is constructed without telemetry.
func NoopTracer() trace.Tracer { return noop.NewTracerProvider().Tracer("noop") }
