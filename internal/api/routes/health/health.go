package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ahrav/stationsnap/internal/api/errs"
	"github.com/ahrav/stationsnap/pkg/common/logger"
	"github.com/ahrav/stationsnap/pkg/web"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build  string
	Log    *logger.Logger
	Status Pinger
}

// Routes binds all the health check endpoints. They are not authenticated.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	app.HandlerFuncNoMid(http.MethodGet, version, "/liveness", liveness(cfg))
	app.HandlerFuncNoMid(http.MethodGet, version, "/readiness", readiness(cfg))
}

// healthResponse represents the response for health check.
type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
}

// Encode implements the web.Encoder interface.
func (hr healthResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(hr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func liveness(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		return healthResponse{
			Status: "ok",
			Build:  cfg.Build,
		}
	}
}

// readyResponse represents the response for readiness check.
type readyResponse struct {
	Status string `json:"status"`
}

// Encode implements the web.Encoder interface.
func (rr readyResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(rr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func readiness(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		if err := cfg.Status.Ping(ctx); err != nil {
			cfg.Log.Info(ctx, "readiness failure", "error", err)
			return errs.Newf(errs.Unavailable, "status store not ready")
		}

		return readyResponse{Status: "ready"}
	}
}
