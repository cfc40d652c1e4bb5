package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/ahrav/stationsnap/pkg/web"
)

// RequestRecorder records per-route request metrics.
type RequestRecorder interface {
	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)
}

// Metrics records the request count and latency keyed by route pattern.
func Metrics(metrics RequestRecorder) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			start := time.Now()
			resp := next(ctx, r)

			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			}
			metrics.IncRequestsTotal(ctx, r.Method, route, web.StatusCode(resp))
			metrics.ObserveRequestDuration(ctx, r.Method, route, time.Since(start))

			return resp
		}

		return h
	}

	return m
}
