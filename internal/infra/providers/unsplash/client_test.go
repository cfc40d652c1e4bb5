package unsplash

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func newPhotoServer(t *testing.T, photo []byte, apiStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/photos/random", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Client-ID key", r.Header.Get("Authorization"))
		assert.Equal(t, "landscape", r.URL.Query().Get("orientation"))
		assert.Equal(t, "Meetstation De Bilt", r.URL.Query().Get("query"))
		if apiStatus != http.StatusOK {
			w.WriteHeader(apiStatus)
			_, _ = w.Write([]byte("rate limited"))
			return
		}
		w.Header().Set("X-Ratelimit-Remaining", "45")
		_, _ = w.Write([]byte(`{"urls":{"regular":"` + srv.URL + `/img.jpg"}}`))
	})
	mux.HandleFunc("/img.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(photo)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(baseURL, key string, maxBytes int64) *Client {
	return NewClient(http.DefaultClient, Config{
		BaseURL:       baseURL,
		AccessKey:     key,
		MaxImageBytes: maxBytes,
	}, noop.NewTracerProvider().Tracer("test"))
}

func TestClient_FetchContent(t *testing.T) {
	photo := []byte("jpeg-bytes")
	srv := newPhotoServer(t, photo, http.StatusOK)
	c := newTestClient(srv.URL, "key", 0)

	got, err := c.FetchContent(context.Background(), "Meetstation De Bilt")
	require.NoError(t, err)
	assert.Equal(t, photo, got)
}

func TestClient_FetchContent_Errors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		c := newTestClient("http://127.0.0.1:1", "", 0)
		_, err := c.FetchContent(context.Background(), "x")
		assert.True(t, errors.Is(err, ErrNotConfigured))
	})

	t.Run("api error", func(t *testing.T) {
		srv := newPhotoServer(t, nil, http.StatusForbidden)
		c := newTestClient(srv.URL, "key", 0)
		_, err := c.FetchContent(context.Background(), "Meetstation De Bilt")
		assert.ErrorContains(t, err, "403")
	})

	t.Run("photo too large", func(t *testing.T) {
		srv := newPhotoServer(t, make([]byte, 64), http.StatusOK)
		c := newTestClient(srv.URL, "key", 16)
		_, err := c.FetchContent(context.Background(), "Meetstation De Bilt")
		assert.ErrorContains(t, err, "exceeds")
	})

	t.Run("missing image url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"urls":{}}`))
		}))
		defer srv.Close()
		c := newTestClient(srv.URL, "key", 0)
		_, err := c.FetchContent(context.Background(), "x")
		assert.Error(t, err)
	})
}
