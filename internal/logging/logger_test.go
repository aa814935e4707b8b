package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestNewWithWriter_JSONAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "info", Format: "json", Component: "pipeline"}, &buf)

	log.WithRunID("run-1").
		WithKey("bing:20250101:en-US:4k").
		WithError(errors.New("boom")).
		WithDuration(1500 * time.Millisecond).
		Info("archived")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "archived", rec["msg"])
	assert.Equal(t, "pipeline", rec["component"])
	assert.Equal(t, "run-1", rec["run_id"])
	assert.Equal(t, "bing:20250101:en-US:4k", rec["key"])
	assert.Equal(t, "boom", rec["error"])
	assert.InDelta(t, 1500, rec["duration_ms"], 0.1)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "warn"}, &buf)

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithError_Nil(t *testing.T) {
	log := Nop()
	assert.Same(t, log, log.WithError(nil))
}

func TestNamed(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Format: "json"}, &buf).Named("fetch")
	assert.Equal(t, "fetch", log.Component())

	log.Info("hello")
	assert.Contains(t, buf.String(), `"component":"fetch"`)
}
