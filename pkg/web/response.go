package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type httpStatus interface {
	HTTPStatus() int
}

// StatusCode returns the HTTP status Respond will write for resp.
func StatusCode(resp Encoder) int {
	switch v := resp.(type) {
	case httpStatus:
		return v.HTTPStatus()
	case error:
		return http.StatusInternalServerError
	case nil:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// Respond sends a response to the client.
func Respond(ctx context.Context, w http.ResponseWriter, resp Encoder) error {
	if _, ok := resp.(NoResponse); ok {
		return nil
	}

	// If the context has been canceled, it means the client is no longer
	// waiting for a response.
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("client disconnected, do not send response")
		}
	}

	if resp == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return ErrNoEncoder
	}

	statusCode := StatusCode(resp)

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", statusCode))

	if statusCode == http.StatusNoContent {
		w.WriteHeader(statusCode)
		return nil
	}

	data, contentType, err := resp.Encode()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return fmt.Errorf("respond: encode: %w", err)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("respond: write: %w", err)
	}

	return nil
}
