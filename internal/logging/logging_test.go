package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"bizdir/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestJSONLoggerAddsServiceAndTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.Log{Level: "info", Format: "json", Service: "bizdir"}, &buf)
	logger.Debug("hidden")
	logger.Info("request approved")
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "request approved", entry["msg"])
	assert.Equal(t, "bizdir", entry["service_name"])
	assert.Contains(t, entry, "timestamp")
}

func TestAdapterWritesKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewAdapter(NewWithWriter(config.Log{Level: "debug", Format: "json"}, &buf))
	adapter.Debug("allocating identifier", "request_id", "r-1")
	adapter.Warn("asset deletion unconfirmed", "handle", "businesses/x/y.png")

	out := buf.String()
	assert.Contains(t, out, `"request_id":"r-1"`)
	assert.Contains(t, out, `"handle":"businesses/x/y.png"`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestNilAdapterDiscards(t *testing.T) {
	adapter := NewAdapter(nil)
	assert.NotPanics(t, func() { adapter.Error("dropped", "k", "v") })
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bizdir.log")
	logger, closeLog, err := New(config.Log{Level: "info", Format: "console", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Info("seeded taxonomy")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "seeded taxonomy")
}
