//go:build !windows

package relay

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// KillSender delivers signals with kill(2).
type KillSender struct{}

func (KillSender) Signal(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}
