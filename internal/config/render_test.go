package config

import (
	"encoding/json"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRenderFormats(t *testing.T) {
	l, err := NewLoader(t.TempDir())
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)

	decoders := map[string]func([]byte, any) error{
		"yaml": yaml.Unmarshal,
		"json": json.Unmarshal,
		"toml": func(b []byte, v any) error { _, err := toml.Decode(string(b), v); return err },
	}
	for format, decode := range decoders {
		t.Run(format, func(t *testing.T) {
			data, err := cfg.Render(format)
			require.NoError(t, err)
			var got map[string]any
			require.NoError(t, decode(data, &got))
			assert.Equal(t, "5m0s", got[KeyStaleAfter])
			assert.Equal(t, cfg.Socket, got[KeySocket])
			assert.Equal(t, "info", got[KeyLogLevel])
			assert.Len(t, got, len(defaults))
		})
	}

	_, err = cfg.Render("ini")
	assert.Error(t, err)
}

func TestWriteConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteConfig(dir, map[string]any{KeyLogLevel: "debug", KeyMaxRequeues: 3}, false)
	require.NoError(t, err)

	l, err := NewLoader(dir)
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.MaxRequeues)
}
