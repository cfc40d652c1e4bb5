// Package buienradar looks up weather stations and their latest readings in
// the public Buienradar JSON feed.
package buienradar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	regexp "github.com/wasilibs/go-re2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/pkg/common"
	"github.com/ahrav/stationsnap/pkg/common/logger"
)

// DefaultFeedURL is the public feed endpoint.
const DefaultFeedURL = "https://data.buienradar.nl/2.0/feed/json"

const maxFeedBytes = 8 << 20

// Config configures the feed client.
type Config struct {
	FeedURL string
	// FeedTTL is how long a fetched feed is reused.
	FeedTTL time.Duration
	// NameFilter, when set, keeps only stations whose name matches.
	NameFilter string
	// RequestsPerSecond limits feed downloads. Zero disables limiting.
	RequestsPerSecond float64
}

var _ jobs.StationLookup = (*Client)(nil)

// Client implements jobs.StationLookup on the Buienradar feed.
type Client struct {
	httpClient  *http.Client
	cfg         Config
	filter      *regexp.Regexp
	rateLimiter *common.RateLimiter

	group     singleflight.Group
	mu        sync.Mutex
	cached    []measurement
	fetchedAt time.Time

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a feed client.
func NewClient(httpClient *http.Client, cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Client, error) {
	if cfg.FeedURL == "" {
		cfg.FeedURL = DefaultFeedURL
	}

	var filter *regexp.Regexp
	if cfg.NameFilter != "" {
		var err error
		if filter, err = regexp.Compile(cfg.NameFilter); err != nil {
			return nil, fmt.Errorf("compile station name filter: %w", err)
		}
	}

	return &Client{
		httpClient:  httpClient,
		cfg:         cfg,
		filter:      filter,
		rateLimiter: common.NewRateLimiter(cfg.RequestsPerSecond, 1),
		logger:      logger.With("component", "buienradar_client"),
		tracer:      tracer,
	}, nil
}

type feedResponse struct {
	Actual struct {
		StationMeasurements []json.RawMessage `json:"stationmeasurements"`
	} `json:"actual"`
}

// measurement is one decoded station entry. Optional readings stay nil when
// absent or not numeric.
type measurement struct {
	StationID   int64    `json:"stationid"`
	StationName *string  `json:"stationname"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Temperature *float64 `json:"-"`
	Humidity    *float64 `json:"-"`
}

type readings struct {
	Temperature any `json:"temperature"`
	Humidity    any `json:"humidity"`
}

func numberOrNil(v any) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

// LookupItems returns up to max stations from the feed, skipping malformed
// entries and, when configured, stations not matching the name filter.
func (c *Client) LookupItems(ctx context.Context, max int) ([]jobs.Station, error) {
	ctx, span := c.tracer.Start(ctx, "buienradar.lookup_items",
		trace.WithAttributes(attribute.Int("max", max)))
	defer span.End()

	ms, err := c.feed(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	stations := make([]jobs.Station, 0, min(max, len(ms)))
	for _, m := range ms {
		if len(stations) >= max {
			break
		}
		if m.Lat == nil || m.Lon == nil {
			continue
		}
		name := "unknown"
		if m.StationName != nil {
			name = *m.StationName
		}
		if c.filter != nil && !c.filter.MatchString(name) {
			continue
		}
		stations = append(stations, jobs.Station{
			ID:   strconv.FormatInt(m.StationID, 10),
			Name: name,
			Lat:  *m.Lat,
			Lon:  *m.Lon,
		})
	}

	span.SetAttributes(attribute.Int("stations", len(stations)))
	return stations, nil
}

// LookupValue returns the station's latest reading or jobs.NoDataValue.
func (c *Client) LookupValue(ctx context.Context, stationID string) string {
	ctx, span := c.tracer.Start(ctx, "buienradar.lookup_value",
		trace.WithAttributes(attribute.String("station_id", stationID)))
	defer span.End()

	ms, err := c.feed(ctx)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn(ctx, "weather feed unavailable", "station_id", stationID, "error", err)
		return jobs.NoDataValue
	}

	for _, m := range ms {
		if strconv.FormatInt(m.StationID, 10) == stationID {
			return FormatReading(m.Temperature, m.Humidity)
		}
	}
	return jobs.NoDataValue
}

// FormatReading renders a reading the way it is drawn on artifacts. Missing
// values render as NaN.
func FormatReading(temperature, humidity *float64) string {
	return fmt.Sprintf("Temp: %s°C, Humidity: %s%%", formatNumber(temperature), formatNumber(humidity))
}

func formatNumber(v *float64) string {
	if v == nil {
		return "NaN"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// feed returns the cached measurements or downloads a fresh feed. Concurrent
// callers share one download.
func (c *Client) feed(ctx context.Context) ([]measurement, error) {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.fetchedAt) < c.cfg.FeedTTL {
		ms := c.cached
		c.mu.Unlock()
		return ms, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("feed", func() (any, error) {
		ms, err := c.download(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cached = ms
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return ms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]measurement), nil
}

func (c *Client) download(ctx context.Context) ([]measurement, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch weather feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read weather feed: %w", err)
	}

	return parseFeed(body)
}

func parseFeed(body []byte) ([]measurement, error) {
	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode weather feed: %w", err)
	}

	ms := make([]measurement, 0, len(feed.Actual.StationMeasurements))
	for _, raw := range feed.Actual.StationMeasurements {
		var m measurement
		if err := json.Unmarshal(raw, &m); err != nil || m.StationID == 0 {
			continue
		}
		var r readings
		if err := json.Unmarshal(raw, &r); err == nil {
			m.Temperature = numberOrNil(r.Temperature)
			m.Humidity = numberOrNil(r.Humidity)
		}
		ms = append(ms, m)
	}
	return ms, nil
}
