// Package daemon detaches the supervisor from the controlling terminal and
// hands it the pidfile it will own.
package daemon

import (
	"context"
	"errors"
	"os"

	"github.com/achelous/upstream/internal/pidfile"
)

// StageEnv tells a re-executed binary which half of the process tree it is.
const StageEnv = "UPSTREAM_STAGE"

// HandoffEnv carries the path of the pidfile passed on PidFileFD to a
// detached supervisor.
const HandoffEnv = "UPSTREAM_HANDOFF_PIDFILE"

// Stage identifies the role of the current process.
type Stage string

const (
	StageCLI        Stage = ""
	StageSupervisor Stage = "supervisor"
	StageWorker     Stage = "worker"
)

// PidFileFD is the descriptor number an inherited pidfile arrives on
// (the first entry of exec.Cmd.ExtraFiles).
const PidFileFD = 3

// ErrDaemonize wraps any failure to detach.
var ErrDaemonize = errors.New("failed to daemonize")

// CurrentStage reads StageEnv from the environment.
func CurrentStage() Stage {
	return Stage(os.Getenv(StageEnv))
}

// Daemonizer produces the process that will supervise the worker, together
// with its pidfile handle.
//
// When detached is true the caller is the invoking process: a detached
// supervisor now owns the pidfile and the caller should exit successfully.
type Daemonizer interface {
	Daemonize(ctx context.Context) (h *pidfile.Handle, detached bool, err error)
}
