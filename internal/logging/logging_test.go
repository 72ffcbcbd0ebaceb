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
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, closeFn, err := New(Options{JSON: true, Level: "info", Out: &buf})
	require.NoError(t, err)

	log.Debugw("hidden")
	log.Infow("Processed", "pipeline", "articles", "path", "a.json")
	require.NoError(t, closeFn())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "Processed", line["msg"])
	assert.Equal(t, "articles", line["pipeline"])
	assert.Equal(t, "a.json", line["path"])
}

func TestConsoleOutputAndVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log, closeFn, err := New(Options{Level: "warn", Verbosity: 2, Out: &buf})
	require.NoError(t, err)
	defer closeFn()

	log.Debugw("Process directory", "path", "sub")
	assert.Contains(t, buf.String(), "Process directory")
	assert.Contains(t, buf.String(), `"path": "sub"`)
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "swallow.log")
	var buf bytes.Buffer
	log, closeFn, err := New(Options{Level: "info", File: path, Out: &buf})
	require.NoError(t, err)

	log.Warnw("Import stopped", "reason", "store closed")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"reason":"store closed"`)
	assert.Contains(t, buf.String(), "Import stopped")
}

func TestLevels(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	assert.Error(t, err)

	assert.Equal(t, zapcore.InfoLevel, Raise(zapcore.WarnLevel, 1))
	assert.Equal(t, zapcore.DebugLevel, Raise(zapcore.InfoLevel, 5))
	assert.Equal(t, zapcore.ErrorLevel, Raise(zapcore.ErrorLevel, 0))
}
