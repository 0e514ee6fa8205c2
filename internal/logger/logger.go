package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultFile       = "restart.log"
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where supervisor diagnostics go.
// The console destination is supplied by the caller; File adds a rotated
// mirror following lumberjack semantics. Worker output never reaches File.
type Config struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // text or json
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	File       string `mapstructure:"file"`         // empty disables the file mirror
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// FileWriter returns the rotating file writer, or nil when File is empty.
func (c Config) FileWriter() io.WriteCloser {
	if c.File == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds the supervisor logger. Records go to console and, when
// configured, to the file mirror. The returned closer releases the file.
func New(c Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	var handlers []slog.Handler
	if console != nil {
		opts := &slog.HandlerOptions{Level: level}
		if !c.TimeStamps {
			opts.ReplaceAttr = dropTime
		}
		switch strings.ToLower(c.Format) {
		case "", "text":
			handlers = append(handlers, NewColorTextHandler(console, opts, c.Color))
		case "json":
			handlers = append(handlers, slog.NewJSONHandler(console, opts))
		default:
			return nil, nil, fmt.Errorf("unknown log format %q", c.Format)
		}
	}
	var closer io.Closer = nopCloser{}
	if fw := c.FileWriter(); fw != nil {
		handlers = append(handlers, slog.NewTextHandler(fw, &slog.HandlerOptions{Level: level}))
		closer = fw
	}
	if len(handlers) == 0 {
		return nil, nil, errors.New("logger has no destination")
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(newTeeHandler(handlers...)), closer, nil
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
