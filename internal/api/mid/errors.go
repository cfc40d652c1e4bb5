package mid

import (
	"context"
	"errors"
	"net/http"
	"path"

	"github.com/ahrav/stationsnap/internal/api/errs"
	"github.com/ahrav/stationsnap/pkg/common/logger"
	"github.com/ahrav/stationsnap/pkg/web"
)

// Errors handles errors coming out of the call chain. Internal failures are
// logged in full and returned to the client with a generic message.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)
			err := isError(resp)
			if err == nil {
				return resp
			}

			var fieldErrs errs.FieldErrors
			if errors.As(err, &fieldErrs) {
				log.Info(ctx, "request failed validation", "err", err)
				return fieldErrs
			}

			appErr := errs.GetError(err)
			if appErr == nil {
				appErr = errs.Newf(errs.Internal, "Internal Server Error")
			}

			log.Error(ctx, "handled error during request",
				"err", err,
				"source_err_file", path.Base(appErr.FileName),
				"source_err_func", path.Base(appErr.FuncName))

			if appErr.Code == errs.Internal || appErr.Code == errs.Unknown {
				return &errs.Error{Code: appErr.Code, Message: http.StatusText(http.StatusInternalServerError)}
			}

			return appErr
		}

		return h
	}

	return m
}

func isError(e web.Encoder) error {
	err, isError := e.(error)
	if isError {
		return err
	}
	return nil
}
