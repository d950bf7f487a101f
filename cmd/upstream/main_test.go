//go:build !windows

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/achelous/upstream/internal/command"
	"github.com/achelous/upstream/internal/pidfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	pid int
	sig syscall.Signal
}

type fakeSender struct {
	sent []sent
	err  error
}

func (f *fakeSender) Signal(pid int, sig syscall.Signal) error {
	f.sent = append(f.sent, sent{pid, sig})
	return f.err
}

func testApp(t *testing.T) (*app, *bytes.Buffer, *fakeSender) {
	t.Helper()
	// keep tests off the system log
	t.Setenv("UPSTREAM_LOG_SYSLOG", "false")
	t.Setenv("UPSTREAM_STAGE", "")
	out := &bytes.Buffer{}
	snd := &fakeSender{}
	a := newApp(nil)
	a.stdout = out
	a.stderr = &bytes.Buffer{}
	a.sender = snd
	return a, out, snd
}

func run(a *app, args ...string) error {
	root := buildRoot(a)
	root.SetArgs(args)
	return root.Execute()
}

func TestStatusStopped(t *testing.T) {
	a, out, _ := testApp(t)
	p := filepath.Join(t.TempDir(), "upstream.pid")
	require.NoError(t, run(a, "status", "--pidfile", p))
	assert.Equal(t, "stopped\n", out.String())
}

func TestStatusRunning(t *testing.T) {
	a, out, _ := testApp(t)
	p := filepath.Join(t.TempDir(), "upstream.pid")
	require.NoError(t, os.WriteFile(p, []byte("4321\n"), 0o644))
	require.NoError(t, run(a, "status", "--pidfile", p))
	assert.Equal(t, "running [4321]\n", out.String())
}

func TestStatusFromConfigFile(t *testing.T) {
	a, out, _ := testApp(t)
	dir := t.TempDir()
	p := filepath.Join(dir, "upstream.pid")
	require.NoError(t, os.WriteFile(p, []byte("77\n"), 0o644))
	cfg := filepath.Join(dir, "upstream.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("pidfile = \""+p+"\"\n"), 0o644))
	require.NoError(t, run(a, "status", "--config", cfg))
	assert.Equal(t, "running [77]\n", out.String())
}

func TestStopNoPidfile(t *testing.T) {
	a, out, snd := testApp(t)
	err := run(a, "stop", "--pidfile", filepath.Join(t.TempDir(), "none.pid"))
	require.ErrorIs(t, err, command.ErrNotRunning)
	assert.Empty(t, snd.sent)
	assert.Empty(t, out.String())
}

func TestStopSendsTerminate(t *testing.T) {
	a, out, snd := testApp(t)
	p := filepath.Join(t.TempDir(), "upstream.pid")
	require.NoError(t, os.WriteFile(p, []byte("4321\n"), 0o644))
	require.NoError(t, run(a, "stop", "--pidfile", p))
	assert.Equal(t, []sent{{4321, syscall.SIGTERM}}, snd.sent)
	assert.Empty(t, out.String(), "stop prints nothing on success")
}

func TestStopSendFailure(t *testing.T) {
	a, _, snd := testApp(t)
	snd.err = syscall.ESRCH
	p := filepath.Join(t.TempDir(), "upstream.pid")
	require.NoError(t, os.WriteFile(p, []byte("4321\n"), 0o644))
	err := run(a, "stop", "--pidfile", p)
	var se *command.SignalError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 4321, se.Pid)
}

func TestStartRequiresCoreCommand(t *testing.T) {
	for _, args := range [][]string{{}, {"start"}, {"restart"}} {
		a, _, _ := testApp(t)
		p := filepath.Join(t.TempDir(), "upstream.pid")
		err := run(a, append(args, "--pidfile", p, "--foreground")...)
		require.Error(t, err, "args=%v", args)
		assert.Contains(t, err.Error(), "core.command")
		_, statErr := os.Stat(p)
		assert.True(t, os.IsNotExist(statErr), "no pidfile without a valid configuration")
	}
}

func TestStartLockedPidfile(t *testing.T) {
	a, _, _ := testApp(t)
	t.Setenv("UPSTREAM_CORE_COMMAND", "/bin/true")
	p := filepath.Join(t.TempDir(), "upstream.pid")
	held, err := pidfile.Acquire(p)
	require.NoError(t, err)
	defer func() { _ = held.Remove() }()

	err = run(a, "start", "--pidfile", p, "--foreground")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "held")
}

func TestStatusWithUnusableConfigReportsStopped(t *testing.T) {
	cases := map[string][]string{
		"relative pidfile": {"status", "--pidfile", "run/upstream.pid"},
		"bad log level":    {"status", "--log-level", "chatty", "--pidfile", filepath.Join(t.TempDir(), "x.pid")},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			a, out, _ := testApp(t)
			require.NoError(t, run(a, args...))
			assert.Equal(t, "stopped\n", out.String())
			assert.NotEmpty(t, a.stderr.(*bytes.Buffer).String())
		})
	}
}

func TestStopRejectsRelativePidfile(t *testing.T) {
	a, _, snd := testApp(t)
	require.Error(t, run(a, "stop", "--pidfile", "run/upstream.pid"))
	assert.Empty(t, snd.sent)
}

func TestBadLogLevel(t *testing.T) {
	a, _, _ := testApp(t)
	require.Error(t, run(a, "stop", "--log-level", "chatty", "--pidfile", filepath.Join(t.TempDir(), "x.pid")))
}

func TestDetachedSupervisorAbandonsPidfileOnBadConfig(t *testing.T) {
	cases := map[string][]string{
		"no core command": {"start", "--pidfile", "/run/upstream.pid"},
		"bad log level":   {"start", "--log-level", "chatty", "--pidfile", "/run/upstream.pid"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			a, _, _ := testApp(t)
			t.Setenv("UPSTREAM_STAGE", "supervisor")
			abandoned := 0
			a.abandonHandoff = func() error {
				abandoned++
				return nil
			}
			require.Error(t, run(a, args...))
			assert.Equal(t, 1, abandoned)
		})
	}
}
