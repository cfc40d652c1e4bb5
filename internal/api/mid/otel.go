package mid

import (
	"context"
	"net/http"

	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/pkg/common/otel"
	"github.com/ahrav/stationsnap/pkg/web"
)

// Otel stores the tracer in the context and tags the request span with the
// method and matched route.
func Otel(tracer trace.Tracer) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			ctx = otel.InjectTracing(ctx, tracer)

			trace.SpanFromContext(ctx).SetAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(r.Pattern),
			)

			return next(ctx, r)
		}

		return h
	}

	return m
}
