package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestNewSlogLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewSlogLogger(&buf, "info", "json")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.With("component", "test").Info("status updated", "role_id", "r1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "status updated", rec["msg"])
	assert.Equal(t, "r1", rec["role_id"])
	assert.Equal(t, "test", rec["component"])
}

func TestNewSlogLoggerRejectsFormat(t *testing.T) {
	_, err := NewSlogLogger(nil, "info", "xml")
	require.Error(t, err)
}
