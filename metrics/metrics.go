// Package metrics exposes Prometheus counters for the collaboration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "canvas"

var (
	// OpsAppended counts successfully sequenced ops by type.
	OpsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ops",
			Name:      "appended_total",
			Help:      "Total number of sequenced operations",
		},
		[]string{"type"},
	)

	// SequencerRetries counts internal retries of the sequencing transaction.
	SequencerRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ops",
			Name:      "sequencer_retries_total",
			Help:      "Retries of the op-index transaction due to store contention",
		},
	)

	// MaterializeFailures counts ops that were durably sequenced but whose
	// projection update failed. The projection is behind the log until a
	// rebuild catches up; nonzero values need operator attention.
	MaterializeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ops",
			Name:      "materialize_failures_total",
			Help:      "Sequenced ops whose element projection update failed",
		},
	)

	// SnapshotsSaved counts persisted snapshots.
	SnapshotsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshots",
			Name:      "saved_total",
			Help:      "Total number of snapshots saved",
		},
	)

	// MediaCollected counts media blobs reclaimed by the garbage collector.
	MediaCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "collected_total",
			Help:      "Media blobs deleted by the reference-count sweep",
		},
	)
)
