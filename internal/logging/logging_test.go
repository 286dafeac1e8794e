package logging

import (
	"bytes"
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
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestFileAndForeground(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	var stderr bytes.Buffer

	l, err := New(Options{File: path, Level: "info", Foreground: true, Stderr: &stderr})
	require.NoError(t, err)
	l.Info("daemon started", "socket", "/tmp/x.sock")
	l.Debug("hidden")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "daemon started")
	assert.NotContains(t, string(data), "hidden")
	assert.Equal(t, string(data), stderr.String())
}

func TestJSONAndSetLevel(t *testing.T) {
	var stderr bytes.Buffer
	l, err := New(Options{Level: "warn", JSON: true, Stderr: &stderr})
	require.NoError(t, err)

	l.Info("dropped")
	l.SetLevel("debug")
	l.Debug("kept", "n", 1)

	lines := strings.Split(strings.TrimSpace(stderr.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "DEBUG", rec["level"])
	require.NoError(t, l.Close())
	require.NoError(t, l.Rotate())
}

func TestBackgroundWritesOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	var stderr bytes.Buffer
	l, err := New(Options{File: path, Stderr: &stderr})
	require.NoError(t, err)
	l.Warn("only in file")
	require.NoError(t, l.Close())
	assert.Empty(t, stderr.String())
}
