// Package launcher turns the freshly forked worker into the core process.
package launcher

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrReturned means the core process entry point gave control back.
	// On success it never does.
	ErrReturned = errors.New("core process returned to launcher")
	// ErrPrivilege wraps any failure to drop to the configured user.
	ErrPrivilege = errors.New("failed to switch user")
)

// PidFile is the worker's inherited copy of the supervisor's pidfile.
type PidFile interface {
	CloseWithoutRemoving() error
}

// PrivilegeSwitcher drops the worker to an unprivileged identity.
type PrivilegeSwitcher interface {
	Switch() error
}

// CoreProcess replaces the current program image. It returns only on error.
type CoreProcess interface {
	Exec(args []string) error
}

// Launcher runs in the worker branch only.
type Launcher struct {
	PidFile  PidFile
	Switcher PrivilegeSwitcher
	Core     CoreProcess
	Log      *slog.Logger
}

// Launch releases the pidfile without removing it, switches user and execs
// the core. Any return is a failure and always wraps ErrReturned.
func (l *Launcher) Launch(args []string) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	// the supervisor still owns the file; only our descriptor goes away
	if l.PidFile != nil {
		if err := l.PidFile.CloseWithoutRemoving(); err != nil {
			log.Warn("failed to close inherited pidfile", "error", err)
		}
	}
	if l.Switcher != nil {
		if err := l.Switcher.Switch(); err != nil {
			log.Error("failed to switch user", "error", err)
			return fmt.Errorf("%w: %w", ErrReturned, err)
		}
	}
	log.Info("executing core process")
	err := l.Core.Exec(args)
	if err == nil {
		err = errors.New("exec returned without error")
	}
	log.Error("failed to execute core process", "error", err)
	return fmt.Errorf("%w: %w", ErrReturned, err)
}
