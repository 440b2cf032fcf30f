package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transitmon_scheduler_jobs_fired_total",
		Help: "Job occurrences dispatched to a worker.",
	})

	JobsMisfired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transitmon_scheduler_jobs_misfired_total",
		Help: "Job occurrences skipped because they exceeded the misfire grace window.",
	})

	JobErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transitmon_scheduler_job_errors_total",
		Help: "Job runs that returned an error or panicked.",
	})

	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transitmon_fetch_retries_total",
		Help: "Remote call attempts that failed and were retried.",
	})

	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transitmon_cycles_total",
		Help: "Completed polling cycles, by feed.",
	}, []string{"feed"})

	ObservationsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transitmon_observations_upserted_total",
		Help: "Reconciled observations merged into storage, by feed.",
	}, []string{"feed"})

	AlertsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transitmon_alerts_sent_total",
		Help: "Delay alerts dispatched.",
	})
)
