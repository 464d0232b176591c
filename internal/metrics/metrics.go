// Package metrics holds the Prometheus instruments shared by the index
// engine. Nothing is registered until Register is called, so packages can
// record unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var IndexUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "repoindex",
	Subsystem: "index_manager",
	Name:      "updates",
}, []string{"kind", "result"})

var IndexUpdateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "repoindex",
	Subsystem: "index_manager",
	Name:      "update_duration_seconds",
	Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
}, []string{"kind"})

var IndexRecoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "repoindex",
	Subsystem: "index_manager",
	Name:      "recoveries",
}, []string{"kind"})

var IndexOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "repoindex",
	Subsystem: "index_manager",
	Name:      "operations",
}, []string{"kind", "op"})

var GarbageCollected = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "repoindex",
	Subsystem: "index_manager",
	Name:      "gc_deleted",
}, []string{"kind"})

var SchedulerPasses = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "repoindex",
	Subsystem: "scheduler",
	Name:      "passes",
}, []string{"kind", "result"})

var SchedulerPassDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "repoindex",
	Subsystem: "scheduler",
	Name:      "pass_duration_seconds",
	Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600},
}, []string{"kind"})

var SchedulerRepos = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "repoindex",
	Subsystem: "scheduler",
	Name:      "last_pass_repos",
}, []string{"kind", "state"})

var LeaseAcquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "repoindex",
	Subsystem: "lease",
	Name:      "acquisitions",
}, []string{"result"})

var LeaseRenewals = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "repoindex",
	Subsystem: "lease",
	Name:      "renewals",
})

var LeasesHeld = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "repoindex",
	Subsystem: "lease",
	Name:      "held",
})

var WorkerTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "repoindex",
	Subsystem: "worker",
	Name:      "tasks",
}, []string{"op", "result"})

// Collectors returns every instrument in this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		IndexUpdates,
		IndexUpdateDuration,
		IndexRecoveries,
		IndexOperations,
		GarbageCollected,
		SchedulerPasses,
		SchedulerPassDuration,
		SchedulerRepos,
		LeaseAcquisitions,
		LeaseRenewals,
		LeasesHeld,
		WorkerTasks,
	}
}

// Register registers every instrument with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
