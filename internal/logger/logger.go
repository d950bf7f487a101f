package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days

	DefaultSyslogTag = "achelous/upstream"
)

// Config describes where the supervisor's log lines go.
// Every enabled sink receives every record at or above the configured level.
type Config struct {
	Slog   SlogConfig
	File   FileConfig
	Syslog SyslogConfig
}

// SlogConfig controls the level and the optional stderr sink.
type SlogConfig struct {
	Level  string // debug|info|warn|error (default info)
	Stderr bool   // also log to stderr (foreground runs)
	Color  bool   // ANSI colored stderr output
	Writer io.Writer
}

// FileConfig describes a rotated log file. Rotation parameters follow
// lumberjack semantics. An empty Path disables the sink.
type FileConfig struct {
	Path       string
	MaxSizeMB  int  // megabytes before rotation (default 10)
	MaxBackups int  // number of backups to keep (default 3)
	MaxAgeDays int  // days to keep (default 7)
	Compress   bool // Gzip rotated files
}

// SyslogConfig enables the system log sink (facility mail).
type SyslogConfig struct {
	Enabled bool
	Tag     string
}

// ParseLevel maps a configured level name to a slog.Level.
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
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// Writer returns the rotating file writer, or nil when no path is configured.
func (c FileConfig) Writer() io.WriteCloser {
	if c.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.Path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// NewSlogger builds a logger fanning out to every configured sink.
// The returned closer releases file and syslog connections.
// With no sink enabled, records are discarded.
func (c Config) NewSlogger() (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Slog.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var (
		handlers []slog.Handler
		closers  multiCloser
	)
	if c.Syslog.Enabled {
		tag := c.Syslog.Tag
		if tag == "" {
			tag = DefaultSyslogTag
		}
		h, closer, err := NewSyslogHandler(tag, opts)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, h)
		closers = append(closers, closer)
	}
	if w := c.File.Writer(); w != nil {
		handlers = append(handlers, slog.NewTextHandler(w, opts))
		closers = append(closers, w)
	}
	if c.Slog.Stderr {
		w := c.Slog.Writer
		if w == nil {
			w = os.Stderr
		}
		if c.Slog.Color {
			handlers = append(handlers, NewColorTextHandler(w, opts, true))
		} else {
			handlers = append(handlers, slog.NewTextHandler(w, opts))
		}
	}
	if len(handlers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, opts)), closers, nil
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closers, nil
	}
	return slog.New(NewFanoutHandler(handlers...)), closers, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
