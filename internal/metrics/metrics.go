package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "process",
			Name:      "launches_total",
			Help:      "Number of launch attempts by result (ok, error).",
		}, []string{"name", "result"},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of observed process exits not caused by disposal, by exit code.",
		}, []string{"name", "code"},
	)
	kills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "process",
			Name:      "kills_total",
			Help:      "Number of forced terminations by reason (request, grace_expired, unresponsive).",
		}, []string{"name", "reason"},
	)
	consoleLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "process",
			Name:      "console_lines_total",
			Help:      "Number of captured console lines by stream.",
		}, []string{"name", "stream"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "poller",
			Name:      "probes_total",
			Help:      "Number of reachability probes by result (up, down).",
		}, []string{"name", "result"},
	)
	available = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nodekeeper",
			Subsystem: "rpc",
			Name:      "available",
			Help:      "1 when the RPC endpoint is confirmed reachable, 0 otherwise.",
		}, []string{"name"},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Number of gateway calls by shape (typed, raw) and result (ok, failed, unavailable, error).",
		}, []string{"name", "shape", "result"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodekeeper",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Transport round-trip time of forwarded gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name", "shape"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, exits, kills, consoleLines, probes, available, rpcCalls, rpcDuration}
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
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(name string, err error) {
	if regOK.Load() {
		launches.WithLabelValues(name, resultOf(err)).Inc()
	}
}

func IncExit(name string, code int) {
	if regOK.Load() {
		exits.WithLabelValues(name, strconv.Itoa(code)).Inc()
	}
}

func IncKill(name, reason string) {
	if regOK.Load() {
		kills.WithLabelValues(name, reason).Inc()
	}
}

func IncConsoleLine(name, stream string) {
	if regOK.Load() {
		consoleLines.WithLabelValues(name, stream).Inc()
	}
}

func IncProbe(name string, up bool) {
	if regOK.Load() {
		r := "down"
		if up {
			r = "up"
		}
		probes.WithLabelValues(name, r).Inc()
	}
}

func SetAvailable(name string, v bool) {
	if regOK.Load() {
		var value float64
		if v {
			value = 1
		}
		available.WithLabelValues(name).Set(value)
	}
}

func IncRPCCall(name, shape, result string) {
	if regOK.Load() {
		rpcCalls.WithLabelValues(name, shape, result).Inc()
	}
}

func ObserveRPCDuration(name, shape string, seconds float64) {
	if regOK.Load() {
		rpcDuration.WithLabelValues(name, shape).Observe(seconds)
	}
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
