// Package logging builds the daemon's slog logger. Daemon logs go to a
// size-rotated file; in the foreground they are also copied to stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the daemon log.
const (
	MaxSizeMB  = 10
	MaxBackups = 3
	MaxAgeDays = 7
)

// Options selects the log destination and format.
type Options struct {
	File       string // empty means no file
	Level      string
	JSON       bool
	Foreground bool      // also write to Stderr
	Stderr     io.Writer // nil means os.Stderr
}

// Logger is a slog.Logger plus the rotating file behind it.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	file  *lumberjack.Logger
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New opens the log file (creating its directory) and returns a logger.
func New(opts Options) (*Logger, error) {
	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(ParseLevel(opts.Level))

	var writers []io.Writer
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, l.file)
	}
	if opts.Foreground || opts.File == "" {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		writers = append(writers, stderr)
	}

	out := io.MultiWriter(writers...)
	handlerOpts := &slog.HandlerOptions{Level: l.level}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(out, handlerOpts)
	} else {
		h = slog.NewTextHandler(out, handlerOpts)
	}
	l.Logger = slog.New(h)
	return l, nil
}

// SetLevel changes the level of an existing logger, for config reloads.
func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}

// Rotate forces the current file to be rotated.
func (l *Logger) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// Close closes the log file if there is one.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
