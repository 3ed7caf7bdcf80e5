package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collect",
		Subsystem: "imports",
		Name:      "job_transitions_total",
		Help:      "Import job state transitions broken down by target status.",
	}, []string{"status"})

	rowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collect",
		Subsystem: "imports",
		Name:      "rows_processed_total",
		Help:      "Rows consumed by the chunk orchestrator broken down by outcome.",
	}, []string{"import_type", "outcome"})

	satelliteInserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collect",
		Subsystem: "imports",
		Name:      "satellite_inserts_total",
		Help:      "Satellite records inserted by the bulk loader per category.",
	}, []string{"category"})

	chunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collect",
		Subsystem: "imports",
		Name:      "chunk_duration_seconds",
		Help:      "Wall-clock duration of a single chunk invocation.",
		Buckets: []float64{
			0.05, 0.1, 0.25, 0.5,
			1, 2, 5, 10, 30, 60,
		},
	}, []string{"import_type"})
)

func RecordJobTransition(status string) {
	jobTransitions.WithLabelValues(status).Inc()
}

func RecordRows(importType string, succeeded, failed int) {
	if succeeded > 0 {
		rowsProcessed.WithLabelValues(importType, "succeeded").Add(float64(succeeded))
	}
	if failed > 0 {
		rowsProcessed.WithLabelValues(importType, "failed").Add(float64(failed))
	}
}

func RecordSatelliteInserts(category string, n int) {
	if n > 0 {
		satelliteInserts.WithLabelValues(category).Add(float64(n))
	}
}

func ObserveChunk(importType string, d time.Duration) {
	chunkDuration.WithLabelValues(importType).Observe(d.Seconds())
}
