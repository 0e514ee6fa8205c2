package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "respawn",
			Subsystem: "worker",
			Name:      "launches_total",
			Help:      "Number of successful worker launches.",
		}, []string{"name"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "respawn",
			Subsystem: "worker",
			Name:      "launch_failures_total",
			Help:      "Number of launch attempts that could not create the worker.",
		}, []string{"name"},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "respawn",
			Subsystem: "worker",
			Name:      "exits_total",
			Help:      "Number of worker generations that ended, by outcome (clean or faulted).",
		}, []string{"name", "outcome"},
	)
	forcedKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "respawn",
			Subsystem: "worker",
			Name:      "forced_kills_total",
			Help:      "Number of forceful kills after the grace period expired.",
		}, []string{"name"},
	)
	quotaExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "respawn",
			Subsystem: "quota",
			Name:      "exhausted_total",
			Help:      "Number of times the daily restart quota blocked a launch.",
		}, []string{"name"},
	)
	restartsToday = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "respawn",
			Subsystem: "quota",
			Name:      "attempts_today",
			Help:      "Launch attempts counted against today's quota.",
		}, []string{"name"},
	)
	quotaLimit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "respawn",
			Subsystem: "quota",
			Name:      "limit",
			Help:      "Maximum launch attempts per calendar day.",
		}, []string{"name"},
	)
	relayLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "respawn",
			Subsystem: "relay",
			Name:      "lines_total",
			Help:      "Lines relayed from the worker, by stream.",
		}, []string{"name", "stream"},
	)
	relayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "respawn",
			Subsystem: "relay",
			Name:      "errors_total",
			Help:      "Stream read failures, by stream.",
		}, []string{"name", "stream"},
	)
	workerRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "respawn",
			Subsystem: "worker",
			Name:      "running",
			Help:      "1 while a worker generation is running.",
		}, []string{"name"},
	)
	shutdownState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "respawn",
			Subsystem: "supervisor",
			Name:      "shutdown_state",
			Help:      "Current shutdown state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, launchFailures, exits, forcedKills, quotaExhausted, restartsToday, quotaLimit, relayLines, relayErrors, workerRunning, shutdownState}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(name string) {
	if regOK.Load() {
		launches.WithLabelValues(name).Inc()
	}
}

func IncLaunchFailure(name string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(name).Inc()
	}
}

func IncExit(name string, clean bool) {
	if regOK.Load() {
		outcome := "faulted"
		if clean {
			outcome = "clean"
		}
		exits.WithLabelValues(name, outcome).Inc()
	}
}

func IncForcedKill(name string) {
	if regOK.Load() {
		forcedKills.WithLabelValues(name).Inc()
	}
}

func IncQuotaExhausted(name string) {
	if regOK.Load() {
		quotaExhausted.WithLabelValues(name).Inc()
	}
}

func SetQuota(name string, count, limit int) {
	if regOK.Load() {
		restartsToday.WithLabelValues(name).Set(float64(count))
		quotaLimit.WithLabelValues(name).Set(float64(limit))
	}
}

func IncRelayLine(name, stream string) {
	if regOK.Load() {
		relayLines.WithLabelValues(name, stream).Inc()
	}
}

func IncRelayError(name, stream string) {
	if regOK.Load() {
		relayErrors.WithLabelValues(name, stream).Inc()
	}
}

func SetWorkerRunning(name string, running bool) {
	if regOK.Load() {
		var v float64
		if running {
			v = 1
		}
		workerRunning.WithLabelValues(name).Set(v)
	}
}

// SetShutdownState marks state as the active one among all.
func SetShutdownState(state string, all ...string) {
	if regOK.Load() {
		for _, s := range all {
			shutdownState.WithLabelValues(s).Set(0)
		}
		shutdownState.WithLabelValues(state).Set(1)
	}
}
