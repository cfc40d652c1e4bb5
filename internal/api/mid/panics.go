package mid

import (
	"context"
	"net/http"
	"runtime/debug"

	"github.com/ahrav/stationsnap/internal/api/errs"
	"github.com/ahrav/stationsnap/pkg/web"
)

// PanicRecorder counts recovered panics.
type PanicRecorder interface {
	IncPanics(ctx context.Context)
}

// Panics recovers from panics and converts the panic to an error so it is
// reported in Metrics and handled in Errors.
func Panics(metrics PanicRecorder) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) (resp web.Encoder) {
			defer func() {
				if rec := recover(); rec != nil {
					trace := debug.Stack()
					resp = errs.Newf(errs.Internal, "PANIC [%v] TRACE[%s]", rec, string(trace))
					metrics.IncPanics(ctx)
				}
			}()

			return next(ctx, r)
		}

		return h
	}

	return m
}
