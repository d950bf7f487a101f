//go:build !windows

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/achelous/upstream/internal/command"
	"github.com/achelous/upstream/internal/config"
	"github.com/achelous/upstream/internal/daemon"
	"github.com/achelous/upstream/internal/relay"
	"github.com/spf13/cobra"
)

func main() {
	a := newApp(os.Args[1:])
	root := buildRoot(a)
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Flags holds the persistent flags, decoupled from cobra for testing.
type Flags struct {
	ConfigPath string
	PidFile    string
	LogLevel   string
	Foreground bool
}

// app carries everything a command needs that tests may replace.
type app struct {
	flags      *Flags
	rawArgs    []string // passed unchanged to re-executed stages
	executable string   // defaults to os.Executable()
	stdout     io.Writer
	stderr     io.Writer
	sender     relay.Sender
	source     relay.Source

	abandonHandoff func() error
}

func newApp(rawArgs []string) *app {
	return &app{
		flags:   &Flags{},
		rawArgs: rawArgs,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		sender:  relay.KillSender{},
		source:  relay.OSSource{},

		abandonHandoff: daemon.AbandonHandoff,
	}
}

// buildRoot creates the single upstream command. The first positional
// argument selects the operation; anything but stop/status starts.
func buildRoot(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "upstream [start|stop|status]",
		Short: "Supervise the achelous core process",
		Long: `upstream detaches from the terminal, runs the core process as its
child, records the core's pid in a pidfile and relays SIGINT, SIGTERM and
SIGQUIT to it.

Examples:
  upstream                 # same as "upstream start"
  upstream start --config /etc/achelous/upstream.toml
  upstream status          # prints "running [<pid>]" or "stopped"
  upstream stop            # sends SIGTERM to the recorded pid`,
		Args:          cobra.ArbitraryArgs,
		ValidArgs:     []string{"start", "stop", "status"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.dispatch(cmd, args)
		},
	}

	root.PersistentFlags().StringVar(&a.flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&a.flags.PidFile, "pidfile", config.DefaultPidFile, "pidfile path")
	root.PersistentFlags().StringVar(&a.flags.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&a.flags.Foreground, "foreground", false, "do not detach from the terminal (start only)")
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root
}

func (a *app) dispatch(cmd *cobra.Command, args []string) error {
	op := command.Select(args)
	// positional arguments after the operation name belong to the core
	rest := args
	if len(args) > 0 && args[0] == op.String() {
		rest = args[1:]
	}
	switch op {
	case command.Stop:
		return a.runStop(cmd)
	case command.Status:
		return a.runStatus(cmd)
	default:
		return a.runStart(cmd, rest)
	}
}
