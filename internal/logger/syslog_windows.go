//go:build windows

package logger

import (
	"errors"
	"io"
	"log/slog"
)

// NewSyslogHandler is unavailable on Windows.
func NewSyslogHandler(string, *slog.HandlerOptions) (slog.Handler, io.Closer, error) {
	return nil, nil, errors.New("syslog is not supported on windows")
}
