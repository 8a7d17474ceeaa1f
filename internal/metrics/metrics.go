// Package metrics exposes Prometheus instrumentation for job transitions,
// approval latency, and sandbox execution duration — ambient observability
// the job engine's concurrency model (one goroutine per job) calls for even
// though the distilled scope never mentions it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters/histograms the job engine updates.
type Metrics struct {
	JobsSubmitted   prometheus.Counter
	JobsCompleted   *prometheus.CounterVec
	ApprovalLatency prometheus.Histogram
	SandboxDuration prometheus.Histogram
}

// New registers and returns a Metrics bundle against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsgate_jobs_submitted_total",
			Help: "Total number of jobs submitted to the engine.",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsgate_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal status, by status.",
		}, []string{"status"}),
		ApprovalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opsgate_approval_latency_seconds",
			Help:    "Time between an approval request and its resolution.",
			Buckets: prometheus.DefBuckets,
		}),
		SandboxDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opsgate_sandbox_step_duration_seconds",
			Help:    "Wall-clock duration of a single sandbox-executed command.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.JobsSubmitted, m.JobsCompleted, m.ApprovalLatency, m.SandboxDuration)
	return m
}

// ObserveApprovalLatency records how long an approval took to resolve.
func (m *Metrics) ObserveApprovalLatency(start time.Time) {
	m.ApprovalLatency.Observe(time.Since(start).Seconds())
}
