package logger

import (
	"context"
	"errors"
	"log/slog"
)

// FanoutHandler dispatches each record to every wrapped handler.
type FanoutHandler struct {
	handlers []slog.Handler
}

// NewFanoutHandler wraps hs; nil handlers are skipped.
func NewFanoutHandler(hs ...slog.Handler) *FanoutHandler {
	out := make([]slog.Handler, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	return &FanoutHandler{handlers: out}
}

func (f *FanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		// each handler may consume the record's attrs; give it its own copy
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: out}
}

func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithGroup(name)
	}
	return &FanoutHandler{handlers: out}
}
