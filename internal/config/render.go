package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Map flattens cfg into key/value pairs using the config file keys.
// Durations are rendered as strings so every format reads them back.
func (c Config) Map() map[string]any {
	dur := func(d time.Duration) string { return d.String() }
	return map[string]any{
		KeySocket:             c.Socket,
		KeySweepInterval:      dur(c.SweepInterval),
		KeyStaleAfter:         dur(c.StaleAfter),
		KeyReapAfter:          dur(c.ReapAfter),
		KeyMaxRequeues:        c.MaxRequeues,
		KeyDefaultLockTimeout: dur(c.DefaultLockTimeout),
		KeyMaxConns:           c.MaxConns,
		KeyMaxFrameBytes:      c.MaxFrameBytes,
		KeyWriteTimeout:       dur(c.WriteTimeout),
		KeyEventBuffer:        c.EventBuffer,
		KeyLogLevel:           c.LogLevel,
		KeyLogJSON:            c.LogJSON,
		KeyLogFile:            c.LogFile,
	}
}

// Render encodes the effective settings as yaml, toml or json.
func (c Config) Render(format string) ([]byte, error) {
	m := c.Map()
	switch format {
	case "", "yaml", "yml":
		return yaml.Marshal(m)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(m); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "json":
		return json.MarshalIndent(m, "", "  ")
	}
	return nil, fmt.Errorf("unknown format %q (want yaml, toml or json)", format)
}
