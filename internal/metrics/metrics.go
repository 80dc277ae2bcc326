package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	restoreRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fledge",
			Subsystem: "restore",
			Name:      "runs_total",
			Help:      "Number of restore runs by outcome (success, failure).",
		}, []string{"outcome"},
	)
	restoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fledge",
			Subsystem: "restore",
			Name:      "duration_seconds",
			Help:      "Wall time of full restore runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fledge",
			Subsystem: "restore",
			Name:      "service_restarts_total",
			Help:      "Service start attempts after a restore, by outcome.",
		}, []string{"outcome"},
	)
	lockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fledge",
			Subsystem: "restore",
			Name:      "lock_contention_total",
			Help:      "Restore attempts rejected because another job held the lock.",
		},
	)
)

// Register registers all collectors on r. Safe to call with the default
// registerer; AlreadyRegisteredError is not treated as fatal.
func Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{restoreRuns, restoreDuration, serviceRestarts, lockContention} {
		if err := r.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveRun(outcome string, seconds float64) {
	restoreRuns.WithLabelValues(outcome).Inc()
	restoreDuration.Observe(seconds)
}

func ObserveServiceRestart(outcome string) {
	serviceRestarts.WithLabelValues(outcome).Inc()
}

func ObserveLockContention() {
	lockContention.Inc()
}

// Handler exposes the default registry for the HTTP API.
func Handler() http.Handler { return promhttp.Handler() }
