package mid

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/ahrav/stationsnap/internal/api/errs"
	"github.com/ahrav/stationsnap/pkg/web"
)

// BasicAuth rejects requests without the configured credentials. An empty
// username disables the check.
func BasicAuth(username, password string) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		if username == "" {
			return next
		}

		h := func(ctx context.Context, r *http.Request) web.Encoder {
			user, pass, ok := r.BasicAuth()
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
			if !ok || !userOK || !passOK {
				if w := web.GetWriter(ctx); w != nil {
					w.Header().Set("WWW-Authenticate", `Basic realm="stationsnap", charset="UTF-8"`)
				}
				return errs.Newf(errs.Unauthenticated, "authentication required")
			}

			return next(ctx, r)
		}

		return h
	}

	return m
}
