package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propshare_submissions_total",
		Help: "Contribution submissions by outcome",
	}, []string{"outcome"})

	confirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propshare_confirmations_total",
		Help: "Confirmation waits by outcome",
	}, []string{"outcome"})

	staleWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propshare_stale_cache_writes_total",
		Help: "Cache writes discarded because a newer snapshot was already applied",
	}, []string{"kind"})

	confirmationWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "propshare_confirmation_wait_seconds",
		Help:    "Time from broadcast to observed receipt",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "propshare_sweep_duration_seconds",
		Help:    "Duration of a full reconciliation sweep",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60},
	})

	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propshare_sweep_errors_total",
		Help: "Per-item failures during reconciliation sweeps",
	})
)
