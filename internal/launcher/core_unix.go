//go:build !windows

package launcher

import (
	"fmt"
	"os"

	"github.com/achelous/upstream/internal/daemon"
	"github.com/achelous/upstream/internal/env"
	"golang.org/x/sys/unix"
)

// ExecCore replaces the worker image with the configured core binary.
// argv is Path, then Args, then the arguments upstream itself was given.
type ExecCore struct {
	Path string
	Args []string
	Env  []string // "K=V" added to the inherited environment
	Dir  string

	exec func(argv0 string, argv []string, envv []string) error
}

func (c *ExecCore) Exec(args []string) error {
	if c.Path == "" {
		return fmt.Errorf("core command is not configured")
	}
	if c.Dir != "" {
		if err := os.Chdir(c.Dir); err != nil {
			return fmt.Errorf("chdir %s: %w", c.Dir, err)
		}
	}
	argv := make([]string, 0, 1+len(c.Args)+len(args))
	argv = append(argv, c.Path)
	argv = append(argv, c.Args...)
	argv = append(argv, args...)

	e := env.New()
	e.FromOS()
	e.Drop(daemon.StageEnv)
	envv := e.Merge(c.Env)

	run := c.exec
	if run == nil {
		run = unix.Exec
	}
	if err := run(c.Path, argv, envv); err != nil {
		return fmt.Errorf("exec %s: %w", c.Path, err)
	}
	return nil
}
