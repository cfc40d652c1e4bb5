// Package routes binds all the routes into the specified app.
package routes

import (
	"github.com/ahrav/stationsnap/internal/api/mid"
	"github.com/ahrav/stationsnap/internal/api/mux"
	"github.com/ahrav/stationsnap/internal/api/routes/health"
	"github.com/ahrav/stationsnap/internal/api/routes/jobs"
	"github.com/ahrav/stationsnap/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build:  cfg.Build,
		Log:    cfg.Log,
		Status: cfg.Status,
	})

	jobs.Routes(app, jobs.Config{
		Log:       cfg.Log,
		Submitter: cfg.Submitter,
		Status:    cfg.Status,
		Artifacts: cfg.Artifacts,
		Auth:      mid.BasicAuth(cfg.Auth.Username, cfg.Auth.Password),
	})
}

// Health constructs a RouteAdder that binds only the health endpoints. It is
// used by processes that serve no job routes.
func Health() healthOnly {
	return healthOnly{}
}

type healthOnly struct{}

// Add implements the RouteAdder interface.
func (healthOnly) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build:  cfg.Build,
		Log:    cfg.Log,
		Status: cfg.Status,
	})
}
