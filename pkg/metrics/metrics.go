// Package metrics provides Prometheus metrics for reconciliation runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks finished runs by mode and outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by mode and outcome",
		},
		[]string{"destination", "mode", "outcome"},
	)

	// RunDuration tracks run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"destination", "mode"},
	)

	// EntitiesTotal tracks entity decisions
	EntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "entities_total",
			Help:      "Entities considered, by decision",
		},
		[]string{"destination", "decision"},
	)

	// BatchDuration tracks committed batch latency
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "batch_duration_seconds",
			Help:      "Duration of destination batch commits in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"destination"},
	)

	// RetriesTotal tracks retried operations
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "retries_total",
			Help:      "Retried operations by operation name",
		},
		[]string{"destination", "operation"},
	)

	// ErrorsTotal tracks recorded problems by category
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "errors_total",
			Help:      "Recorded problems by error category",
		},
		[]string{"destination", "category"},
	)

	// HistoryEntriesTotal tracks appended history entries
	HistoryEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "journal",
			Name:      "entries_total",
			Help:      "History entries appended",
		},
		[]string{"destination"},
	)

	// DuplicateGroups tracks the size of the last duplicate analysis
	DuplicateGroups = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "matching",
			Name:      "duplicate_groups",
			Help:      "Duplicate groups found by the most recent analysis",
		},
		[]string{"entity_type"},
	)

	// CapacityViolations tracks the size of the last capacity check
	CapacityViolations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "matching",
			Name:      "capacity_violations",
			Help:      "Capacity violations found by the most recent analysis",
		},
	)
)
