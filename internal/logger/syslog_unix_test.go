//go:build !windows

package logger

import (
	"log/slog"
	"testing"
)

type fakeSyslog struct {
	lines []string
}

func (f *fakeSyslog) add(sev, m string) error {
	f.lines = append(f.lines, sev+" "+m)
	return nil
}

func (f *fakeSyslog) Debug(m string) error   { return f.add("debug", m) }
func (f *fakeSyslog) Info(m string) error    { return f.add("info", m) }
func (f *fakeSyslog) Warning(m string) error { return f.add("warning", m) }
func (f *fakeSyslog) Err(m string) error     { return f.add("err", m) }

func TestSyslogHandlerSeverityMapping(t *testing.T) {
	w := &fakeSyslog{}
	log := slog.New(newSyslogHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.Debug("debugging")
	log.Info("service completed")
	log.Warn("signal dropped", "signal", "interrupt")
	log.Error("failed to write pid to pidfile", "error", "disk full")

	want := []string{
		"debug debugging",
		"info service completed",
		"warning signal dropped signal=interrupt",
		`err failed to write pid to pidfile error="disk full"`,
	}
	if len(w.lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(w.lines), len(want), w.lines)
	}
	for i := range want {
		if w.lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, w.lines[i], want[i])
		}
	}
}

func TestSyslogHandlerLevelAndAttrs(t *testing.T) {
	w := &fakeSyslog{}
	log := slog.New(newSyslogHandler(w, nil)).With("component", "supervisor").WithGroup("worker")

	log.Debug("filtered")
	log.Info("executing core process", "pid", 7)

	if len(w.lines) != 1 {
		t.Fatalf("expected one line, got %q", w.lines)
	}
	if w.lines[0] != "info executing core process component=supervisor worker.pid=7" {
		t.Fatalf("unexpected line %q", w.lines[0])
	}
}
