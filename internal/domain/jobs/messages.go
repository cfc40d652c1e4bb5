package jobs

import (
	"fmt"
	"time"
)

// ArtifactExt is the file extension of every rendered artifact.
const ArtifactExt = "png"

// StartJobMessage is published by Submit and consumed by the orchestrator's
// fan-out handler.
type StartJobMessage struct {
	JobID     string    `json:"jobId" validate:"required,uuid4"`
	StartedAt time.Time `json:"startedAt" validate:"required"`
}

// WorkItem is one independently processed sub-task of a job. It exists only
// as a queue message.
type WorkItem struct {
	JobID       string  `json:"jobId" validate:"required,uuid4"`
	ItemKey     string  `json:"itemKey" validate:"required,max=128,printascii,excludesall=/"`
	StationName string  `json:"stationName" validate:"required,max=256"`
	Lat         float64 `json:"lat" validate:"min=-90,max=90"`
	Lon         float64 `json:"lon" validate:"min=-180,max=180"`
}

// ArtifactKey returns the deterministic blob path for the item's artifact.
func (w WorkItem) ArtifactKey() string { return ArtifactKey(w.JobID, w.ItemKey) }

// PartitionKey returns the queue key for the item. It is unique per item so a
// job's items spread across partitions and run in parallel.
func (w WorkItem) PartitionKey() string { return w.JobID + "/" + w.ItemKey }

// ArtifactKey builds the blob path {jobId}/{itemKey}.png.
func ArtifactKey(jobID, itemKey string) string {
	return fmt.Sprintf("%s/%s.%s", jobID, itemKey, ArtifactExt)
}

// ArtifactPrefix is the listing prefix for all artifacts of a job.
func ArtifactPrefix(jobID string) string { return jobID + "/" }

// Station is a lookup candidate returned by the weather provider.
type Station struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

// WorkItemFor builds the work item message for a station.
func WorkItemFor(jobID string, st Station) WorkItem {
	return WorkItem{
		JobID:       jobID,
		ItemKey:     st.ID,
		StationName: st.Name,
		Lat:         st.Lat,
		Lon:         st.Lon,
	}
}

// Artifact describes one stored output.
type Artifact struct {
	Key  string
	URL  string
	Size int64
}
