package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relationsync",
		Name:      "reconcile_sweeps_total",
		Help:      "Number of reconciliation sweeps started.",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relationsync",
		Name:      "reconcile_sweep_duration_seconds",
		Help:      "Wall time of full reconciliation sweeps.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	sweepObjectsScanned = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relationsync",
		Name:      "reconcile_objects_scanned",
		Help:      "Objects examined per reconciliation sweep.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})
)
