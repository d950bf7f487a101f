// Package command implements the start/stop/status surface of upstream.
package command

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"

	"github.com/achelous/upstream/internal/pidfile"
	"github.com/achelous/upstream/internal/relay"
)

// Command is one of the three lifecycle operations.
type Command int

const (
	Start Command = iota
	Stop
	Status
)

func (c Command) String() string {
	switch c {
	case Stop:
		return "stop"
	case Status:
		return "status"
	default:
		return "start"
	}
}

// Select picks the command from the first positional argument. Only "stop"
// and "status" are matched; anything else, including nothing, is Start.
func Select(args []string) Command {
	if len(args) == 0 {
		return Start
	}
	switch args[0] {
	case "stop":
		return Stop
	case "status":
		return Status
	default:
		return Start
	}
}

// ErrNotRunning is returned by Stop when no pid is on file.
var ErrNotRunning = errors.New("failed to read pid from file")

// SignalError reports a failed signal delivery.
type SignalError struct {
	Pid int
	Err error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("failed to kill pid %d: %v", e.Pid, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

// StopService sends one SIGTERM to the pid on file. It does not wait for
// the worker to exit.
func StopService(path string, sender relay.Sender, log *slog.Logger) error {
	pid := pidfile.ReadPid(path)
	if pid == 0 {
		log.Error("failed to read pid from file", "pidfile", path)
		return ErrNotRunning
	}
	if err := sender.Signal(pid, syscall.SIGTERM); err != nil {
		log.Error("failed to kill pid", "pid", pid, "error", err)
		return &SignalError{Pid: pid, Err: err}
	}
	log.Info("sent kill signal to service", "pid", pid)
	return nil
}

// ServiceStatus writes "running [<pid>]" or "stopped" to w. The pid is not
// checked for liveness: a stale record still reads as running.
func ServiceStatus(path string, w io.Writer, log *slog.Logger) error {
	pid := pidfile.ReadPid(path)
	if pid == 0 {
		log.Info("service is stopped")
		_, err := fmt.Fprintln(w, "stopped")
		return err
	}
	log.Info("service is running", "pid", pid)
	_, err := fmt.Fprintf(w, "running [%d]\n", pid)
	return err
}
