// Package supervisor runs the worker process and owns its pidfile for as
// long as the worker lives.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/achelous/upstream/internal/daemon"
	"github.com/achelous/upstream/internal/metrics"
	"github.com/achelous/upstream/internal/relay"
)

var (
	// ErrFork is returned when the worker process could not be started.
	ErrFork = errors.New("failed to fork for core process")
	// ErrWait is returned when waiting for the worker failed.
	ErrWait = errors.New("failed to wait for core process")
)

// PidFile is the part of *pidfile.Handle the supervisor needs.
type PidFile interface {
	Path() string
	File() *os.File
	Write(pid int) error
	Remove() error
}

// Worker is a started worker process.
type Worker interface {
	Pid() int
	// Wait blocks until the worker exits. A worker that exits non-zero or
	// dies from a signal is a successful wait.
	Wait() (*os.ProcessState, error)
}

// Forker starts the worker, passing it the pidfile descriptor so it can
// release its copy.
type Forker interface {
	Fork(ctx context.Context, pidfile *os.File, args []string) (Worker, error)
}

// Supervisor is the long-lived parent of the worker.
type Supervisor struct {
	daemonizer daemon.Daemonizer
	forker     Forker
	relay      *relay.Relay
	sender     relay.Sender
	log        *slog.Logger

	mu    sync.Mutex
	state State
}

// New wires a supervisor. daemonizer is only needed by Start.
func New(d daemon.Daemonizer, f Forker, r *relay.Relay, sender relay.Sender, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{daemonizer: d, forker: f, relay: r, sender: sender, log: log}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start daemonizes and then runs the worker until it exits.
// detached is true in the invoking process once a detached supervisor owns
// the pidfile; that process has nothing further to do.
func (s *Supervisor) Start(ctx context.Context, args []string) (detached bool, err error) {
	h, detached, err := s.daemonizer.Daemonize(ctx)
	if err != nil {
		s.transition(StateFailed, "failed to daemonize", "error", err)
		return false, err
	}
	if detached {
		return true, nil
	}
	return false, s.Run(ctx, h, args)
}

// Run forks the worker, records its pid in h and waits for it to exit.
// h is removed on every return path.
func (s *Supervisor) Run(ctx context.Context, h PidFile, args []string) error {
	s.transition(StateDaemonized, "supervisor daemonized", "pidfile", h.Path(), "pid", os.Getpid())
	defer func() {
		// unlink while the handlers are still armed; a SIGTERM after Close
		// kills the supervisor outright
		if err := h.Remove(); err != nil {
			s.log.Error("failed to remove pidfile", "pidfile", h.Path(), "error", err)
		}
		s.relay.Close()
	}()

	// Armed before the fork: anything received until Track is held, not lost.
	s.relay.Install(ctx)

	w, err := s.forker.Fork(ctx, h.File(), args)
	if err != nil {
		s.transition(StateFailed, "failed to fork for core process", "error", err)
		return fmt.Errorf("%w: %w", ErrFork, err)
	}
	pid := w.Pid()
	metrics.IncWorkerStart()
	s.transition(StateForked, "forked core process", "pid", pid)
	s.relay.Track(pid)

	if err := h.Write(pid); err != nil {
		s.transition(StateFailed, "failed to write pid to pidfile", "pidfile", h.Path(), "error", err)
		// never leave a worker running that nothing can stop
		if kerr := s.sender.Signal(pid, syscall.SIGTERM); kerr != nil {
			s.log.Error("failed to terminate unrecorded core process", "pid", pid, "error", kerr)
		}
		return err
	}

	s.transition(StateWaiting, "waiting for core process", "pid", pid)
	st, err := w.Wait()
	s.relay.Release()
	if err != nil {
		metrics.IncWorkerExit("wait_error")
		s.transition(StateFailed, "failed to wait for core process", "pid", pid, "error", err)
		return fmt.Errorf("%w: %w", ErrWait, err)
	}
	metrics.IncWorkerExit(exitResult(st))
	s.transition(StateDone, "service completed", "pid", pid, "status", exitStatus(st))
	return nil
}

func (s *Supervisor) transition(to State, msg string, args ...any) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	metrics.RecordStateTransition(from.String(), to.String())
	metrics.SetCurrentState(from.String(), false)
	metrics.SetCurrentState(to.String(), true)

	args = append(args, "state", to.String())
	if to == StateFailed {
		s.log.Error(msg, args...)
		return
	}
	s.log.Info(msg, args...)
}

func exitResult(st *os.ProcessState) string {
	if st == nil {
		return "exited"
	}
	if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return "signaled"
	}
	return "exited"
}

func exitStatus(st *os.ProcessState) string {
	if st == nil {
		return "unknown"
	}
	return st.String()
}
