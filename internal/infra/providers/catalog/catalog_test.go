package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
)

const sample = `
stations:
  - id: "6260"
    name: Meetstation De Bilt
    lat: 52.1
    lon: 5.18
    reading: "Temp: 12°C, Humidity: 80%"
  - id: "6240"
    name: Meetstation Schiphol
    lat: 52.3
    lon: 4.77
`

func TestLoad(t *testing.T) {
	c, err := Load(strings.NewReader(sample))
	require.NoError(t, err)
	ctx := context.Background()

	stations, err := c.LookupItems(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []jobs.Station{
		{ID: "6260", Name: "Meetstation De Bilt", Lat: 52.1, Lon: 5.18},
		{ID: "6240", Name: "Meetstation Schiphol", Lat: 52.3, Lon: 4.77},
	}, stations)

	one, err := c.LookupItems(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	assert.Equal(t, "Temp: 12°C, Humidity: 80%", c.LookupValue(ctx, "6260"))
	assert.Equal(t, jobs.NoDataValue, c.LookupValue(ctx, "6240"))
	assert.Equal(t, jobs.NoDataValue, c.LookupValue(ctx, "0000"))
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "missing name",
			doc:  "stations:\n  - id: \"1\"\n    lat: 1\n    lon: 1\n",
		},
		{
			name: "slash in id",
			doc:  "stations:\n  - id: \"a/b\"\n    name: x\n",
		},
		{
			name: "latitude out of range",
			doc:  "stations:\n  - id: \"1\"\n    name: x\n    lat: 91\n",
		},
		{
			name: "duplicate id",
			doc:  "stations:\n  - id: \"1\"\n    name: x\n  - id: \"1\"\n    name: y\n",
		},
		{
			name: "not yaml",
			doc:  "stations: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	stations, err := c.LookupItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, stations, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEmptyCatalog(t *testing.T) {
	c, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	stations, err := c.LookupItems(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, stations)
}
