package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upstream",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"from", "to"},
	)

	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "upstream",
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)

	signalsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upstream",
			Subsystem: "relay",
			Name:      "signals_received_total",
			Help:      "Signals received by the supervisor.",
		}, []string{"signal"},
	)

	signalsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upstream",
			Subsystem: "relay",
			Name:      "signals_forwarded_total",
			Help:      "Signals successfully forwarded to the worker.",
		}, []string{"signal"},
	)

	forwardErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upstream",
			Subsystem: "relay",
			Name:      "forward_errors_total",
			Help:      "Signals that could not be delivered to the worker.",
		}, []string{"signal"},
	)

	workerStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "upstream",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of worker processes forked.",
		},
	)

	workerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upstream",
			Subsystem: "worker",
			Name:      "exits_total",
			Help:      "Number of observed worker exits by result (exited, signaled, wait_error).",
		}, []string{"result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{stateTransitions, currentState, signalsReceived, signalsForwarded, forwardErrors, workerStarts, workerExits}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Serve exposes /metrics on addr using the default registry.
// It blocks until the listener fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func SetCurrentState(state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentState.WithLabelValues(state).Set(value)
	}
}

func IncSignalReceived(sig string) {
	if regOK.Load() {
		signalsReceived.WithLabelValues(sig).Inc()
	}
}

func IncSignalForwarded(sig string) {
	if regOK.Load() {
		signalsForwarded.WithLabelValues(sig).Inc()
	}
}

func IncForwardError(sig string) {
	if regOK.Load() {
		forwardErrors.WithLabelValues(sig).Inc()
	}
}

func IncWorkerStart() {
	if regOK.Load() {
		workerStarts.Inc()
	}
}

func IncWorkerExit(result string) {
	if regOK.Load() {
		workerExits.WithLabelValues(result).Inc()
	}
}
