package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_WritesMetadataAndTraceID(t *testing.T) {
	var buf bytes.Buffer
	traceID := func(context.Context) string { return "abc123" }

	log := NewWithMetadata(&buf, LevelInfo, "svc", traceID, Events{}, map[string]string{"hostname": "h1"})
	log.Info(context.Background(), "hello", "job_id", "j1")
	log.Debug(context.Background(), "dropped")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0]["msg"])
	assert.Equal(t, "svc", lines[0]["service"])
	assert.Equal(t, "h1", lines[0]["hostname"])
	assert.Equal(t, "abc123", lines[0]["trace_id"])
	assert.Equal(t, "j1", lines[0]["job_id"])
	assert.Contains(t, lines[0]["file"], "logger_test.go")
}

func TestLogger_ErrorEventFires(t *testing.T) {
	var buf bytes.Buffer
	var got Record

	log := NewWithEvents(&buf, LevelDebug, "svc", nil, Events{
		Error: func(_ context.Context, r Record) { got = r },
	})
	log.Error(context.Background(), "boom", "reason", "disk")

	assert.Equal(t, "boom", got.Message)
	assert.Equal(t, "disk", got.Attributes["reason"])
}

func TestLoggerContext_Add(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerContext(New(&buf, LevelDebug, "svc", nil).With("component", "test"))

	log.Info(context.Background(), "first")
	log.Add("job_id", "j1")
	log.Info(context.Background(), "second")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "job_id")
	assert.Equal(t, "j1", lines[1]["job_id"])
	assert.Equal(t, "test", lines[1]["component"])
}

func TestTee(t *testing.T) {
	var a, b bytes.Buffer
	h := Tee(
		slog.NewJSONHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	log := NewWithHandler(h)

	log.Info(context.Background(), "info")
	log.Error(context.Background(), "error")

	assert.Len(t, decodeLines(t, &a), 2)
	assert.Len(t, decodeLines(t, &b), 1)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
