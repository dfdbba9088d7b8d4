package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relationsync",
		Name:      "syncs_total",
		Help:      "Total number of domain object syncs, by result.",
	}, []string{"result"})

	syncDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relationsync",
		Name:      "sync_duration_seconds",
		Help:      "Duration of domain object syncs.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	tuplesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relationsync",
		Name:      "tuples_written_total",
		Help:      "Total number of relationship tuples written to the store.",
	})

	tuplesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relationsync",
		Name:      "tuples_deleted_total",
		Help:      "Total number of relationship tuples deleted from the store.",
	})

	driftRepairsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relationsync",
		Name:      "drift_repairs_total",
		Help:      "Total number of reconciliation passes that found and repaired drift.",
	})
)
