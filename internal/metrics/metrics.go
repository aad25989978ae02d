// Package metrics exposes counters for the anomalies the admission design
// promises to surface rather than swallow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotq_admission_rejected_total",
		Help: "Slot reservations rejected because the tenant was at its limit.",
	}, []string{"tenant"})

	SemaphoreClamped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotq_semaphore_clamp_total",
		Help: "Semaphore decrements clamped at zero (release without matching reservation).",
	}, []string{"tenant"})

	RecordRecreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotq_job_record_recreated_total",
		Help: "Job records synthesized by the defensive recreate-on-missing path.",
	}, []string{"tenant"})

	StaleJobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotq_stale_jobs_failed_total",
		Help: "Running jobs force-failed by the reconciliation sweep.",
	}, []string{"tenant"})

	DriftRepaired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotq_semaphore_drift_repaired_total",
		Help: "Semaphore values overwritten after drifting from the job-record count.",
	}, []string{"tenant"})

	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotq_lock_timeouts_total",
		Help: "Lock acquisitions that failed within the caller's timeout.",
	})
)
