//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/achelous/upstream/internal/daemon"
)

// ExecForker starts the worker by re-executing Executable with
// StageEnv=worker. The pidfile descriptor is passed as daemon.PidFileFD.
type ExecForker struct {
	Executable string
	Env        []string // defaults to os.Environ()
	Stdout     io.Writer
	Stderr     io.Writer
}

func (f *ExecForker) Fork(_ context.Context, pidfile *os.File, args []string) (Worker, error) {
	exe := f.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, err
		}
	}
	env := f.Env
	if env == nil {
		env = os.Environ()
	}
	// Not CommandContext: the worker must outlive any cancellation of ours.
	// #nosec G204 -- executable comes from our own path or operator config
	cmd := exec.Command(exe, args...)
	cmd.Env = daemon.WithStage(env, daemon.StageWorker)
	cmd.Stdout = f.Stdout
	cmd.Stderr = f.Stderr
	if pidfile != nil {
		cmd.ExtraFiles = []*os.File{pidfile}
	}
	// Own process group: terminal signals reach the worker only through the relay.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdWorker{cmd: cmd}, nil
}

type cmdWorker struct {
	cmd *exec.Cmd
}

func (w *cmdWorker) Pid() int { return w.cmd.Process.Pid }

func (w *cmdWorker) Wait() (*os.ProcessState, error) {
	err := w.cmd.Wait()
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		return nil, err
	}
	return w.cmd.ProcessState, nil
}
