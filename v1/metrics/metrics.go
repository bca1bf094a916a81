// Package metrics tracks lock acquisition accounting. Counters are process
// local and approximate; the store-derived count from
// Stats.ActualActiveLockCount is the only figure that is consistent across
// processes, and the two are allowed to diverge.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AttemptCounter tracks the number of acquisition attempts.
	AttemptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_lock_attempts_total",
		Help: "Total number of lock acquisition attempts",
	})
	// AcquiredCounter tracks the number of successful acquisitions.
	AcquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_lock_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})
	// MissedCounter tracks acquisitions that exhausted their retries.
	MissedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_lock_missed_total",
		Help: "Total number of lock acquisitions that gave up",
	})
	// ReleasedCounter tracks the number of releases.
	ReleasedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_lock_released_total",
		Help: "Total number of lock releases",
	})
	// ActiveGauge reports the tracked number of currently held locks.
	ActiveGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "latch_active_locks",
		Help: "Current number of locks tracked as held by this process",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers latch core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AttemptCounter, AcquiredCounter, MissedCounter, ReleasedCounter, ActiveGauge)
}
