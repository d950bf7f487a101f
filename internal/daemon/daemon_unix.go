//go:build !windows

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/achelous/upstream/internal/pidfile"
)

// Foreground skips detaching: the current process acquires the pidfile and
// becomes the supervisor itself.
type Foreground struct {
	PidFile string
}

func (f Foreground) Daemonize(context.Context) (*pidfile.Handle, bool, error) {
	h, err := pidfile.Acquire(f.PidFile)
	if err != nil {
		return nil, false, err
	}
	return h, false, nil
}

// Reexec detaches by starting the same executable in a new session with
// StageEnv=supervisor and the locked pidfile on PidFileFD. The invoking
// process releases its copy without removing the file; the lock stays with
// the shared open file description.
type Reexec struct {
	PidFile    string
	Executable string   // defaults to os.Executable()
	Args       []string // arguments for the detached process, without argv[0]
	Env        []string // defaults to os.Environ()
	Log        *slog.Logger

	start func(*exec.Cmd) error
}

func (r *Reexec) Daemonize(context.Context) (*pidfile.Handle, bool, error) {
	if CurrentStage() == StageSupervisor {
		path := r.PidFile
		if p := os.Getenv(HandoffEnv); p != "" {
			path = p
		}
		h, err := pidfile.Inherit(path, PidFileFD)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrDaemonize, err)
		}
		return h, false, nil
	}

	h, err := pidfile.Acquire(r.PidFile)
	if err != nil {
		return nil, false, err
	}
	cmd, err := r.command(h)
	if err != nil {
		_ = h.Remove()
		return nil, false, err
	}
	start := r.start
	if start == nil {
		start = (*exec.Cmd).Start
	}
	if err := start(cmd); err != nil {
		_ = h.Remove()
		return nil, false, fmt.Errorf("%w: start detached supervisor: %w", ErrDaemonize, err)
	}
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
		_ = cmd.Process.Release()
	}
	if r.Log != nil {
		r.Log.Info("detached supervisor started", "pid", pid, "pidfile", h.Path())
	}
	// The detached supervisor now owns the lifecycle of the file.
	_ = h.CloseWithoutRemoving()
	return nil, true, nil
}

func (r *Reexec) command(h *pidfile.Handle) (*exec.Cmd, error) {
	exe := r.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("%w: executable path: %w", ErrDaemonize, err)
		}
	}
	env := r.Env
	if env == nil {
		env = os.Environ()
	}
	// #nosec G204 -- re-executing our own binary
	cmd := exec.Command(exe, r.Args...)
	cmd.Env = append(WithStage(env, StageSupervisor), HandoffEnv+"="+h.Path())
	cmd.ExtraFiles = []*os.File{h.File()}
	// stdin/stdout/stderr go to /dev/null
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	configureDaemonAttrs(cmd)
	return cmd, nil
}

// AbandonHandoff removes the pidfile handed to a detached supervisor that
// fails before Daemonize takes it over. Outside the supervisor stage, or
// without a handoff path, it does nothing.
func AbandonHandoff() error {
	return abandonHandoff(PidFileFD)
}

func abandonHandoff(fd uintptr) error {
	if CurrentStage() != StageSupervisor {
		return nil
	}
	path := os.Getenv(HandoffEnv)
	if path == "" {
		return nil
	}
	h, err := pidfile.Inherit(path, fd)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDaemonize, err)
	}
	return h.Remove()
}

// configureDaemonAttrs puts the child in a new session, detached from the
// controlling terminal.
func configureDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
