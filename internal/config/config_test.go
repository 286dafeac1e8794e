package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLoader(dir)
	require.NoError(t, err)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "coord.sock"), cfg.Socket)
	assert.Equal(t, filepath.Join(dir, "daemon.log"), cfg.LogFile)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.StateDir())
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.StaleAfter)
	assert.Equal(t, time.Hour, cfg.ReapAfter)
	assert.Equal(t, 0, cfg.MaxRequeues)
	assert.Equal(t, 100, cfg.MaxConns)
	assert.Equal(t, 16<<20, cfg.MaxFrameBytes)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yml := "stale-after: 90s\nmax-requeues: 3\nlog-level: DEBUG\n"
	require.NoError(t, os.WriteFile(ConfigFile(dir), []byte(yml), 0600))
	t.Setenv("COORD_MAX_REQUEUES", "7")
	t.Setenv("COORD_SOCKET", "/tmp/elsewhere.sock")

	l, err := NewLoader(dir)
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.StaleAfter)
	assert.Equal(t, 7, cfg.MaxRequeues, "env beats file")
	assert.Equal(t, "/tmp/elsewhere.sock", cfg.Socket)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		want string
	}{
		{"zero sweep", "sweep-interval: 0s\n", KeySweepInterval},
		{"negative reap", "reap-after: -1m\n", KeyReapAfter},
		{"negative requeues", "max-requeues: -2\n", KeyMaxRequeues},
		{"bad level", "log-level: loud\n", KeyLogLevel},
		{"no conns", "max-conns: 0\n", KeyMaxConns},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(ConfigFile(dir), []byte(tt.yml), 0600))
			l, err := NewLoader(dir)
			require.NoError(t, err)
			_, err = l.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMalformedFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(ConfigFile(dir), []byte("stale-after: [\n"), 0600))
	_, err := NewLoader(dir)
	require.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	dir := filepath.Join(t.TempDir(), DirName)

	path, err := WriteDefault(dir, false)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# Heartbeat age after which an agent is marked dead.")
	assert.Contains(t, text, "stale-after: 5m0s")

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Len(t, parsed, len(defaults))

	// The rendered file loads back to the defaults.
	l, err := NewLoader(dir)
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.StaleAfter)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)

	_, err = WriteDefault(dir, false)
	require.Error(t, err, "existing file is kept without force")
	_, err = WriteDefault(dir, true)
	require.NoError(t, err)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(ConfigFile(dir), []byte("stale-after: 1m\n"), 0600))

	l, err := NewLoader(dir)
	require.NoError(t, err)

	got := make(chan Config, 4)
	require.True(t, l.Watch(slog.New(slog.DiscardHandler), func(c Config) { got <- c }))

	require.NoError(t, os.WriteFile(ConfigFile(dir), []byte("stale-after: 2m\n"), 0600))

	// A truncate and a write can arrive as separate events.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-got:
			if cfg.StaleAfter == 2*time.Minute {
				return
			}
		case <-deadline:
			t.Fatal("no reload after config change")
		}
	}
}

func TestWatchWithoutFile(t *testing.T) {
	l, err := NewLoader(t.TempDir())
	require.NoError(t, err)
	assert.False(t, l.Watch(slog.New(slog.DiscardHandler), func(Config) {}))
}

func TestFindDir(t *testing.T) {
	root := t.TempDir()
	coordDir := filepath.Join(root, DirName)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(coordDir, 0700))
	require.NoError(t, os.MkdirAll(nested, 0700))

	assert.Equal(t, coordDir, FindDir(nested))

	other := t.TempDir()
	assert.True(t, strings.HasPrefix(FindDir(other), other))
}
