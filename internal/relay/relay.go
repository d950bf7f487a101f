// Package relay forwards termination-class signals received by the
// supervisor to the worker it tracks.
package relay

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/achelous/upstream/internal/metrics"
)

// Signals is the fixed set relayed verbatim to the worker.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}

// Source delivers OS signals to a channel. It mirrors os/signal.
type Source interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

// Sender delivers a signal to a process.
type Sender interface {
	Signal(pid int, sig syscall.Signal) error
}

// OSSource is the os/signal backed Source.
type OSSource struct{}

func (OSSource) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (OSSource) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

// Relay tracks one worker pid and forwards each received signal to it.
// Signals that arrive before the pid is known are held and flushed by Track.
type Relay struct {
	src    Source
	sender Sender
	log    *slog.Logger

	pid atomic.Int64

	mu        sync.Mutex
	pending   []syscall.Signal
	ch        chan os.Signal
	done      chan struct{}
	installed bool
	closed    bool
	released  bool
	wg        sync.WaitGroup
}

// New returns an inert relay; nothing is intercepted until Install.
func New(src Source, sender Sender, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{src: src, sender: sender, log: log, done: make(chan struct{})}
}

// Install subscribes to Signals and starts the forwarding loop.
// Calling it again, or after Close, does nothing.
func (r *Relay) Install(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed || r.closed {
		return
	}
	r.installed = true
	r.ch = make(chan os.Signal, 8)
	r.src.Notify(r.ch, Signals...)
	r.wg.Add(1)
	go r.loop(ctx, r.ch)
}

// Track records the worker pid and forwards anything received so far.
// Only the first call takes effect.
func (r *Relay) Track(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	if cur := r.pid.Load(); cur != 0 {
		r.log.Warn("worker pid already tracked", "pid", cur, "ignored", pid)
		return
	}
	if pid <= 0 {
		return
	}
	r.pid.Store(int64(pid))
	pending := r.pending
	r.pending = nil
	for _, sig := range pending {
		r.forward(pid, sig)
	}
}

// Pid returns the tracked worker pid, or 0 if none.
func (r *Relay) Pid() int { return int(r.pid.Load()) }

// Release stops forwarding to the tracked pid once the worker has been
// reaped, since the kernel may hand that pid to another process. Signals
// received afterwards are still intercepted but dropped.
func (r *Relay) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.pid.Store(0)
	r.pending = nil
}

// Close unsubscribes and waits for the loop to exit. Signals still held
// because no worker was ever tracked are dropped.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.installed {
		r.src.Stop(r.ch)
	}
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sig := range r.pending {
		r.log.Warn("dropping signal, no core process to receive it", "signal", sig.String())
	}
	r.pending = nil
}

func (r *Relay) loop(ctx context.Context, ch <-chan os.Signal) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case s := <-ch:
			sig, ok := s.(syscall.Signal)
			if !ok {
				continue
			}
			r.handle(sig)
		}
	}
}

func (r *Relay) handle(sig syscall.Signal) {
	metrics.IncSignalReceived(sig.String())
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		r.log.Info("dropping signal, core process already exited", "signal", sig.String())
		return
	}
	pid := int(r.pid.Load())
	if pid == 0 {
		r.log.Info("holding signal until core process is known", "signal", sig.String())
		r.pending = append(r.pending, sig)
		return
	}
	r.forward(pid, sig)
}

// forward must be called with mu held so held and live signals keep their order.
func (r *Relay) forward(pid int, sig syscall.Signal) {
	r.log.Info("propagating signal to core process", "signal", int(sig), "name", sig.String(), "pid", pid)
	if err := r.sender.Signal(pid, sig); err != nil {
		metrics.IncForwardError(sig.String())
		r.log.Error("failed to propagate signal to core process", "signal", int(sig), "pid", pid, "error", err)
		return
	}
	metrics.IncSignalForwarded(sig.String())
}
