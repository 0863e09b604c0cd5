// Package metrics provides Prometheus metrics for the alert service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alertbox"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Alert operation metrics
var (
	// AlertOperationsTotal counts orchestrator operations by kind (create, update, delete) and outcome.
	AlertOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "operations_total",
			Help:      "Alert create/update/delete operations by outcome",
		},
		[]string{"operation", "outcome"},
	)
)

// File metrics
var (
	FilesStagedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "staged_total",
			Help:      "Files written to the upload directory by the intake stage",
		},
	)

	FilesRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "removed_total",
			Help:      "Files unlinked from the upload directory",
		},
	)

	CleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "cleanup_failures_total",
			Help:      "Staged files that could not be removed during failure cleanup",
		},
	)

	OrphansRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "orphans_removed_total",
			Help:      "Orphan files removed by the sweeper",
		},
	)
)

// Outcome labels for AlertOperationsTotal.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// ObserveOperation records one orchestrator operation.
func ObserveOperation(op string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	AlertOperationsTotal.WithLabelValues(op, outcome).Inc()
}
