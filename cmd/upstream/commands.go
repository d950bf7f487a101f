//go:build !windows

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/achelous/upstream/internal/command"
	"github.com/achelous/upstream/internal/config"
	"github.com/achelous/upstream/internal/daemon"
	"github.com/achelous/upstream/internal/launcher"
	"github.com/achelous/upstream/internal/metrics"
	"github.com/achelous/upstream/internal/pidfile"
	"github.com/achelous/upstream/internal/relay"
	"github.com/achelous/upstream/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// setup loads configuration and builds the logger for one invocation.
func (a *app) setup(cmd *cobra.Command, stderr bool) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(a.flags.ConfigPath, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}
	lc := cfg.LoggerConfig(stderr)
	lc.Slog.Writer = a.stderr
	log, closer, err := lc.NewSlogger()
	if err != nil && lc.Syslog.Enabled {
		// no syslog daemon: keep going on stderr rather than not logging at all
		serr := err
		lc.Syslog.Enabled = false
		lc.Slog.Stderr = true
		if log, closer, err = lc.NewSlogger(); err == nil {
			log.Warn("syslog unavailable, logging to stderr", "error", serr)
		}
	}
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, closer, nil
}

// runStatus always succeeds. A configuration that names no usable pidfile
// reports the service as stopped.
func (a *app) runStatus(cmd *cobra.Command) error {
	cfg, log, closer, err := a.setup(cmd, false)
	if err != nil {
		_, _ = fmt.Fprintln(a.stderr, err)
		_, _ = fmt.Fprint(a.stdout, "stopped\n")
		return nil
	}
	defer func() { _ = closer.Close() }()
	if err := cfg.Validate(false); err != nil {
		log.Error("invalid configuration", "error", err)
		_, _ = fmt.Fprintln(a.stderr, err)
		_, _ = fmt.Fprint(a.stdout, "stopped\n")
		return nil
	}
	if err := command.ServiceStatus(cfg.PidFile, a.stdout, log); err != nil {
		log.Error("failed to print status", "error", err)
	}
	return nil
}

func (a *app) runStop(cmd *cobra.Command) error {
	cfg, log, closer, err := a.setup(cmd, false)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	if err := cfg.Validate(false); err != nil {
		return err
	}
	return command.StopService(cfg.PidFile, a.sender, log)
}

func (a *app) runStart(cmd *cobra.Command, args []string) error {
	stage := daemon.CurrentStage()
	cfg, log, closer, err := a.setup(cmd, a.flags.Foreground && stage != daemon.StageWorker)
	if err != nil {
		a.abandon(nil)
		return err
	}
	defer func() { _ = closer.Close() }()
	if err := cfg.Validate(true); err != nil {
		log.Error("invalid configuration", "error", err)
		a.abandon(log)
		return err
	}

	if stage == daemon.StageWorker {
		return a.runWorker(cfg, log, args)
	}

	var d daemon.Daemonizer
	if a.flags.Foreground {
		d = daemon.Foreground{PidFile: cfg.PidFile}
	} else {
		d = &daemon.Reexec{PidFile: cfg.PidFile, Executable: a.executable, Args: a.rawArgs, Log: log}
	}
	// only the process that will supervise serves metrics
	if a.flags.Foreground || stage == daemon.StageSupervisor {
		a.startMetrics(cfg, log)
	}

	forker := &supervisor.ExecForker{Executable: a.executable}
	if a.flags.Foreground {
		forker.Stdout, forker.Stderr = a.stdout, a.stderr
	}
	s := supervisor.New(d, forker, relay.New(a.source, a.sender, log), a.sender, log)
	detached, err := s.Start(cmd.Context(), a.rawArgs)
	if err != nil {
		return err
	}
	if detached {
		log.Debug("handed pidfile to detached supervisor", "pidfile", cfg.PidFile)
	}
	return nil
}

// abandon drops the pidfile a detached supervisor was handed but will never
// supervise.
func (a *app) abandon(log *slog.Logger) {
	if err := a.abandonHandoff(); err != nil && log != nil {
		log.Error("failed to remove handed-off pidfile", "error", err)
	}
}

// runWorker is the forked child: it becomes the core process or fails.
func (a *app) runWorker(cfg *config.Config, log *slog.Logger, args []string) error {
	h, err := pidfile.Inherit(cfg.PidFile, daemon.PidFileFD)
	if err != nil {
		log.Error("failed to take over pidfile descriptor", "error", err)
		return err
	}
	env, err := cfg.CoreEnv()
	if err != nil {
		_ = h.CloseWithoutRemoving()
		log.Error("failed to build core environment", "error", err)
		return err
	}
	l := &launcher.Launcher{
		PidFile:  h,
		Switcher: &launcher.UserSwitcher{User: cfg.User.Name, Group: cfg.User.Group},
		Core: &launcher.ExecCore{
			Path: cfg.Core.Command,
			Args: cfg.Core.Args,
			Env:  env,
			Dir:  cfg.Core.WorkDir,
		},
		Log: log,
	}
	return l.Launch(args)
}

func (a *app) startMetrics(cfg *config.Config, log *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("failed to register metrics", "error", err)
		return
	}
	if cfg.Metrics.Listen == "" {
		return
	}
	go func() {
		if err := metrics.Serve(cfg.Metrics.Listen); err != nil {
			log.Error("metrics server error", "listen", cfg.Metrics.Listen, "error", err)
		}
	}()
	log.Info("serving metrics", "listen", cfg.Metrics.Listen)
}
