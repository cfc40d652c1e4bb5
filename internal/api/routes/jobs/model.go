package jobs

import (
	"encoding/json"
	"net/http"
)

type startResponse struct {
	JobID string `json:"jobId"`
}

// Encode implements the web.Encoder interface.
func (sr startResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(sr)
	return data, "application/json", err
}

// HTTPStatus reports 202: the job is accepted, not finished.
func (startResponse) HTTPStatus() int { return http.StatusAccepted }

type statusResponse struct {
	JobID       string  `json:"jobId"`
	State       string  `json:"state"`
	Total       *int    `json:"total"`
	Completed   int     `json:"completed"`
	Percent     float64 `json:"percent"`
	StartedAt   *string `json:"startedAt"`
	UpdatedAt   *string `json:"updatedAt"`
	CompletedAt *string `json:"completedAt"`
	Message     string  `json:"message"`
}

// Encode implements the web.Encoder interface.
func (sr statusResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(sr)
	return data, "application/json", err
}

type imagesResponse []string

// Encode implements the web.Encoder interface.
func (ir imagesResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(ir)
	return data, "application/json", err
}

type rawResponse struct {
	data        []byte
	contentType string
}

// Encode implements the web.Encoder interface.
func (rr rawResponse) Encode() ([]byte, string, error) { return rr.data, rr.contentType, nil }
