package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"gocloud.dev/blob/memblob"

	"github.com/ahrav/stationsnap/internal/api"
	"github.com/ahrav/stationsnap/internal/api/mux"
	appjobs "github.com/ahrav/stationsnap/internal/app/jobs"
	"github.com/ahrav/stationsnap/internal/infra/storage"
	"github.com/ahrav/stationsnap/internal/infra/storage/artifact"
	"github.com/ahrav/stationsnap/internal/infra/storage/status/memory"
	"github.com/ahrav/stationsnap/pkg/common/logger"
	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

type mockSubmitter struct{ mock.Mock }

func (m *mockSubmitter) Submit(ctx context.Context) (uuid.UUID, error) {
	args := m.Called(ctx)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type testAPI struct {
	handler   http.Handler
	submitter *mockSubmitter
	repo      *memory.StatusStore
	artifacts *artifact.BlobStore
}

func newTestAPI(t *testing.T, auth mux.AuthConfig) *testAPI {
	t.Helper()

	tracer := tracenoop.NewTracerProvider().Tracer("test")
	log := logger.Noop()
	metrics, err := api.NewAPIMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	repo := memory.NewStatusStore()
	artifacts := artifact.NewBlobStore(memblob.OpenBucket(nil), artifact.Config{
		PublicBaseURL: "http://localhost:6000/artifacts",
	}, storage.NoOpTracer())
	t.Cleanup(func() { _ = artifacts.Close() })

	submitter := new(mockSubmitter)
	handler := mux.WebAPI(mux.Config{
		Build:     "test",
		Log:       log,
		Tracer:    tracer,
		Metrics:   metrics,
		Submitter: submitter,
		Status:    appjobs.NewStatusService(repo, artifacts, log, tracer),
		Artifacts: artifacts,
		Auth:      auth,
	}, Routes())

	return &testAPI{handler: handler, submitter: submitter, repo: repo, artifacts: artifacts}
}

func (a *testAPI) do(t *testing.T, method, path string, setup ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for _, fn := range setup {
		fn(req)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStart(t *testing.T) {
	a := newTestAPI(t, mux.AuthConfig{})
	jobID := uuid.New()
	a.submitter.On("Submit", mock.Anything).Return(jobID, nil).Once()

	rec := a.do(t, http.MethodPost, "/start")

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"jobId":"`+jobID.String()+`"}`, rec.Body.String())
	a.submitter.AssertExpectations(t)
}

func TestStart_QueueUnavailable(t *testing.T) {
	a := newTestAPI(t, mux.AuthConfig{})
	a.submitter.On("Submit", mock.Anything).Return(uuid.Nil, errors.New("kafka down")).Once()

	rec := a.do(t, http.MethodPost, "/start")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decodeBody(t, rec)["code"])
}

func TestStart_PanicIsRecovered(t *testing.T) {
	a := newTestAPI(t, mux.AuthConfig{})
	a.submitter.On("Submit", mock.Anything).Run(func(mock.Arguments) { panic("boom") }).Return(uuid.Nil, nil)

	rec := a.do(t, http.MethodPost, "/start")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Internal Server Error", body["message"])
}

func TestStatus(t *testing.T) {
	a := newTestAPI(t, mux.AuthConfig{})
	ctx := context.Background()

	inProgress := uuid.New()
	_, err := a.repo.CreateStatus(ctx, inProgress, time.Now())
	require.NoError(t, err)
	_, err = a.repo.SetTotal(ctx, inProgress, 4)
	require.NoError(t, err)
	_, err = a.repo.RecordCompletion(ctx, inProgress, "6260")
	require.NoError(t, err)

	unknown := uuid.New()

	tests := []struct {
		name       string
		path       string
		wantCode   int
		wantFields map[string]any
	}{
		{
			name:     "in progress",
			path:     "/status/" + inProgress.String(),
			wantCode: http.StatusOK,
			wantFields: map[string]any{
				"state":     "IN_PROGRESS",
				"total":     float64(4),
				"completed": float64(1),
				"percent":   float64(25),
				"message":   "Job " + inProgress.String() + " is IN_PROGRESS: 1 of 4 items completed",
			},
		},
		{
			name:     "unknown job is not an error",
			path:     "/status/" + unknown.String(),
			wantCode: http.StatusOK,
			wantFields: map[string]any{
				"state":   "NOT_FOUND",
				"total":   nil,
				"message": "Job " + unknown.String() + " not found",
			},
		},
		{
			name:       "malformed id",
			path:       "/status/not-a-uuid",
			wantCode:   http.StatusBadRequest,
			wantFields: map[string]any{"code": "invalid_argument"},
		},
		{
			name:       "nil id",
			path:       "/status/" + uuid.Nil.String(),
			wantCode:   http.StatusBadRequest,
			wantFields: map[string]any{"code": "invalid_argument"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodGet, tt.path)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			body := decodeBody(t, rec)
			for k, want := range tt.wantFields {
				assert.Equal(t, want, body[k], k)
			}
		})
	}
}

func TestImagesAndArtifacts(t *testing.T) {
	a := newTestAPI(t, mux.AuthConfig{})
	ctx := context.Background()
	jobID := uuid.New().String()

	require.NoError(t, a.artifacts.Put(ctx, jobID+"/6260.png", []byte("png-1"), "image/png"))
	require.NoError(t, a.artifacts.Put(ctx, jobID+"/6240.png", []byte("png-2"), "image/png"))

	rec := a.do(t, http.MethodGet, "/images/"+jobID)
	require.Equal(t, http.StatusOK, rec.Code)
	var urls []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &urls))
	assert.ElementsMatch(t, []string{
		"http://localhost:6000/artifacts/" + jobID + "/6260.png",
		"http://localhost:6000/artifacts/" + jobID + "/6240.png",
	}, urls)

	rec = a.do(t, http.MethodGet, "/images/"+uuid.New().String())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/artifacts/"+jobID+"/6260.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png-1", rec.Body.String())

	rec = a.do(t, http.MethodGet, "/artifacts/"+jobID+"/9999.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/artifacts/"+jobID+"/6260.txt")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	a := newTestAPI(t, mux.AuthConfig{Username: "admin", Password: "s3cret"})
	jobID := uuid.New()
	a.submitter.On("Submit", mock.Anything).Return(jobID, nil)

	rec := a.do(t, http.MethodPost, "/start")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	rec = a.do(t, http.MethodPost, "/start", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") })
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/start", func(r *http.Request) { r.SetBasicAuth("admin", "s3cret") })
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/liveness")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, mux.AuthConfig{})

	rec := a.do(t, http.MethodGet, "/v1/liveness")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","build":"test"}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/v1/readiness")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}
