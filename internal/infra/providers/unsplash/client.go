// Package unsplash fetches a random landscape photo for a search query.
package unsplash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/pkg/common"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.unsplash.com"

// ErrNotConfigured is returned when no access key is set. Callers fall back
// to a placeholder.
var ErrNotConfigured = errors.New("unsplash access key not configured")

// Config configures the photo client.
type Config struct {
	BaseURL     string
	AccessKey   string
	Orientation string
	// MaxImageBytes caps the downloaded photo size.
	MaxImageBytes int64
	// RequestsPerSecond limits API calls. Zero disables limiting.
	RequestsPerSecond float64
}

var _ jobs.ContentFetcher = (*Client)(nil)

// Client implements jobs.ContentFetcher with rate limiting and tracing.
type Client struct {
	httpClient  *http.Client
	cfg         Config
	rateLimiter *common.RateLimiter
	tracer      trace.Tracer
}

// NewClient creates a photo client.
func NewClient(httpClient *http.Client, cfg Config, tracer trace.Tracer) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Orientation == "" {
		cfg.Orientation = "landscape"
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 16 << 20
	}
	return &Client{
		httpClient:  httpClient,
		cfg:         cfg,
		rateLimiter: common.NewRateLimiter(cfg.RequestsPerSecond, 5),
		tracer:      tracer,
	}
}

type randomPhotoResponse struct {
	URLs struct {
		Regular string `json:"regular"`
	} `json:"urls"`
}

// FetchContent returns the bytes of a random photo matching query.
func (c *Client) FetchContent(ctx context.Context, query string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "unsplash.fetch_content",
		trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	if c.cfg.AccessKey == "" {
		return nil, ErrNotConfigured
	}

	photoURL, err := c.randomPhotoURL(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	data, err := c.download(ctx, photoURL)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("content_size", len(data)))
	return data, nil
}

func (c *Client) randomPhotoURL(ctx context.Context, query string) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("orientation", c.cfg.Orientation)
	endpoint := c.cfg.BaseURL + "/photos/random?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create photo request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.cfg.AccessKey)
	req.Header.Set("Accept-Version", "v1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("photo request failed: %w", err)
	}
	defer resp.Body.Close()

	c.updateRateLimits(resp.Header)

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("non-200 response from photo API: %d %s", resp.StatusCode, string(data))
	}

	var result randomPhotoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode photo response: %w", err)
	}
	if result.URLs.Regular == "" {
		return "", errors.New("photo response has no image url")
	}
	return result.URLs.Regular, nil
}

func (c *Client) download(ctx context.Context, photoURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("photo download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("photo download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read photo: %w", err)
	}
	if int64(len(data)) > c.cfg.MaxImageBytes {
		return nil, fmt.Errorf("photo exceeds %d bytes", c.cfg.MaxImageBytes)
	}
	return data, nil
}

// updateRateLimits spreads the remaining hourly quota reported by the API
// over the rest of the hour.
func (c *Client) updateRateLimits(headers http.Header) {
	remaining, err := strconv.ParseInt(headers.Get("X-Ratelimit-Remaining"), 10, 64)
	if err != nil || remaining <= 0 {
		return
	}
	rps := float64(remaining) / time.Hour.Seconds()
	c.rateLimiter.UpdateLimits(rps, max(int(remaining/10), 1))
}
