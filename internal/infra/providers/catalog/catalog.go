// Package catalog serves station lookups from a static YAML file. It is used
// for offline runs and tests where the live feed is not reachable.
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
)

// Entry is one station in the catalog file.
type Entry struct {
	jobs.Station `yaml:",inline"`
	Reading      string `yaml:"reading"`
}

type file struct {
	Stations []Entry `yaml:"stations"`
}

type entryRules struct {
	ID   string  `validate:"required,max=128,printascii,excludesall=/"`
	Name string  `validate:"required"`
	Lat  float64 `validate:"min=-90,max=90"`
	Lon  float64 `validate:"min=-180,max=180"`
}

var _ jobs.StationLookup = (*Catalog)(nil)

// Catalog implements jobs.StationLookup over a fixed station list.
type Catalog struct {
	stations []jobs.Station
	readings map[string]string
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open station catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a catalog. Every station must be well formed and IDs must be
// unique.
func Load(r io.Reader) (*Catalog, error) {
	var doc file
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode station catalog: %w", err)
	}

	v := validator.New()
	c := &Catalog{readings: make(map[string]string, len(doc.Stations))}
	for i, e := range doc.Stations {
		rules := entryRules{ID: e.ID, Name: e.Name, Lat: e.Lat, Lon: e.Lon}
		if err := v.Struct(rules); err != nil {
			return nil, fmt.Errorf("station %d: %w", i, err)
		}
		if _, dup := c.readings[e.ID]; dup {
			return nil, fmt.Errorf("station %d: duplicate id %q", i, e.ID)
		}
		c.stations = append(c.stations, e.Station)
		c.readings[e.ID] = e.Reading
	}
	return c, nil
}

// New builds a catalog from stations with no readings.
func New(stations ...jobs.Station) *Catalog {
	c := &Catalog{readings: make(map[string]string, len(stations))}
	for _, s := range stations {
		c.stations = append(c.stations, s)
		c.readings[s.ID] = ""
	}
	return c
}

// LookupItems returns the first max stations.
func (c *Catalog) LookupItems(_ context.Context, max int) ([]jobs.Station, error) {
	n := min(max, len(c.stations))
	if n < 0 {
		n = 0
	}
	out := make([]jobs.Station, n)
	copy(out, c.stations[:n])
	return out, nil
}

// LookupValue returns the recorded reading or jobs.NoDataValue.
func (c *Catalog) LookupValue(_ context.Context, stationID string) string {
	if v := c.readings[stationID]; v != "" {
		return v
	}
	return jobs.NoDataValue
}
