package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"), "unknown levels default to info")
}

func TestSetupWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Level = "debug"
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)

	logger.Info("hello", slog.String("key", "value"))
	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "logs", "scopyd.log"))
	require.NoError(t, err)

	line := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)[0]
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestRotatingWriterRotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scopyd.log")

	w := &RotatingWriter{path: path, maxSize: 64, maxFiles: 2}
	require.NoError(t, w.openFile())
	defer w.Close()

	chunk := []byte(strings.Repeat("x", 48) + "\n")
	for i := 0; i < 4; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}

	_, err := os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".1")
	require.NoError(t, err, "rotation must keep the previous file as .1")
}

func TestRotatingWriterDropsOldest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scopyd.log")

	w := &RotatingWriter{path: path, maxSize: 16, maxFiles: 2}
	require.NoError(t, w.openFile())
	defer w.Close()

	line := []byte(strings.Repeat("y", 15) + "\n")
	for i := 0; i < 8; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	_, err := os.Stat(path + ".2")
	require.NoError(t, err)
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "only maxFiles rotated logs are kept")
}
