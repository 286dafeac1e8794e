// Package config loads daemon settings from .coord/config.yaml, COORD_*
// environment variables, and command-line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DirName is the per-project directory holding the socket, state and logs.
const DirName = ".coord"

// Config keys.
const (
	KeySocket             = "socket"
	KeySweepInterval      = "sweep-interval"
	KeyStaleAfter         = "stale-after"
	KeyReapAfter          = "reap-after"
	KeyMaxRequeues        = "max-requeues"
	KeyDefaultLockTimeout = "default-lock-timeout"
	KeyMaxConns           = "max-conns"
	KeyMaxFrameBytes      = "max-frame-bytes"
	KeyWriteTimeout       = "write-timeout"
	KeyEventBuffer        = "event-buffer"
	KeyLogLevel           = "log-level"
	KeyLogJSON            = "log-json"
	KeyLogFile            = "log-file"
)

// Config is a resolved, validated view of all settings.
type Config struct {
	Dir string // the .coord directory

	Socket             string
	SweepInterval      time.Duration
	StaleAfter         time.Duration
	ReapAfter          time.Duration
	MaxRequeues        int
	DefaultLockTimeout time.Duration
	MaxConns           int
	MaxFrameBytes      int
	WriteTimeout       time.Duration
	EventBuffer        int
	LogLevel           string
	LogJSON            bool
	LogFile            string
}

// StateDir is where snapshot files live.
func (c Config) StateDir() string {
	return filepath.Join(c.Dir, "state")
}

// ConfigFile is the path of config.yaml inside dir.
func ConfigFile(dir string) string {
	return filepath.Join(dir, "config.yaml")
}

type setting struct {
	key     string
	value   any
	comment string
}

// defaults is ordered so WriteDefault renders a stable file.
var defaults = []setting{
	{KeySocket, "", "Unix socket path. Empty means <dir>/coord.sock."},
	{KeySweepInterval, 30 * time.Second, "How often the liveness sweeper runs."},
	{KeyStaleAfter, 5 * time.Minute, "Heartbeat age after which an agent is marked dead."},
	{KeyReapAfter, time.Hour, "How long a dead agent is kept before removal. 0 keeps it forever."},
	{KeyMaxRequeues, 0, "Requeues after which a command fails as abandoned. 0 is unlimited."},
	{KeyDefaultLockTimeout, 5 * time.Minute, "Lock lifetime when a caller passes no timeout."},
	{KeyMaxConns, 100, "Concurrent client connections; extra ones are closed."},
	{KeyMaxFrameBytes, 16 << 20, "Largest accepted request frame."},
	{KeyWriteTimeout, 10 * time.Second, "Deadline for writing one frame to a client."},
	{KeyEventBuffer, 256, "Outbound frames queued per connection before events are dropped."},
	{KeyLogLevel, "info", "debug, info, warn or error."},
	{KeyLogJSON, false, "Write JSON log lines instead of text."},
	{KeyLogFile, "", "Daemon log path. Empty means <dir>/daemon.log."},
}

// Loader owns a viper instance for one .coord directory.
type Loader struct {
	dir string
	v   *viper.Viper

	mu       sync.Mutex
	watching bool
}

// NewLoader prepares defaults and environment bindings for dir and reads
// config.yaml if present.
func NewLoader(dir string) (*Loader, error) {
	v := viper.New()
	for _, s := range defaults {
		v.SetDefault(s.key, s.value)
	}
	v.SetEnvPrefix("COORD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(ConfigFile(dir))
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read %s: %w", ConfigFile(dir), err)
			}
		}
	}
	return &Loader{dir: dir, v: v}, nil
}

// Viper exposes the underlying instance so commands can bind flags.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load resolves and validates the current settings.
func (l *Loader) Load() (Config, error) {
	v := l.v
	cfg := Config{
		Dir:                l.dir,
		Socket:             v.GetString(KeySocket),
		SweepInterval:      v.GetDuration(KeySweepInterval),
		StaleAfter:         v.GetDuration(KeyStaleAfter),
		ReapAfter:          v.GetDuration(KeyReapAfter),
		MaxRequeues:        v.GetInt(KeyMaxRequeues),
		DefaultLockTimeout: v.GetDuration(KeyDefaultLockTimeout),
		MaxConns:           v.GetInt(KeyMaxConns),
		MaxFrameBytes:      v.GetInt(KeyMaxFrameBytes),
		WriteTimeout:       v.GetDuration(KeyWriteTimeout),
		EventBuffer:        v.GetInt(KeyEventBuffer),
		LogLevel:           strings.ToLower(v.GetString(KeyLogLevel)),
		LogJSON:            v.GetBool(KeyLogJSON),
		LogFile:            v.GetString(KeyLogFile),
	}
	if cfg.Socket == "" {
		cfg.Socket = filepath.Join(l.dir, "coord.sock")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(l.dir, "daemon.log")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		KeySweepInterval:      c.SweepInterval,
		KeyStaleAfter:         c.StaleAfter,
		KeyDefaultLockTimeout: c.DefaultLockTimeout,
		KeyWriteTimeout:       c.WriteTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", key, d))
		}
	}
	if c.ReapAfter < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyReapAfter))
	}
	if c.MaxRequeues < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyMaxRequeues))
	}
	if c.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxConns))
	}
	if c.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxFrameBytes))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyEventBuffer))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%s must be debug, info, warn or error, got %q", KeyLogLevel, c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Watch calls fn with the reloaded config whenever config.yaml changes.
// Invalid edits are logged and ignored. It is a no-op when the file does
// not exist.
func (l *Loader) Watch(logger *slog.Logger, fn func(Config)) bool {
	if _, err := os.Stat(ConfigFile(l.dir)); err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watching {
		return true
	}
	l.watching = true

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Load()
		if err != nil {
			logger.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}
		logger.Info("config reloaded", "file", e.Name)
		fn(cfg)
	})
	l.v.WatchConfig()
	return true
}

// FindDir walks up from start looking for a .coord directory. If none is
// found it returns start/.coord.
func FindDir(start string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Join(start, DirName)
		}
		dir = parent
	}
}
