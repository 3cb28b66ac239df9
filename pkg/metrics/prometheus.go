package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fillsIngested   *prometheus.CounterVec
	snapshotsRouted *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	capacityMean    prometheus.Gauge
	capacityMinimum prometheus.Gauge
	capacityLast    prometheus.Gauge
	latency         *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		fillsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "captrack_fills_ingested_total",
				Help: "Total number of fill events ingested",
			},
			[]string{"symbol"},
		),
		snapshotsRouted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "captrack_snapshots_routed_total",
				Help: "Total number of capacity snapshots routed to a backend",
			},
			[]string{"backend", "bottleneck"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "captrack_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		capacityMean: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "captrack_capacity_mean_dollars",
				Help: "Mean estimated strategy capacity in dollars",
			},
		),
		capacityMinimum: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "captrack_capacity_minimum_dollars",
				Help: "Minimum estimated strategy capacity in dollars",
			},
		),
		capacityLast: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "captrack_capacity_last_dollars",
				Help: "Most recent settled capacity estimate in dollars",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "captrack_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordFillIngested records an ingested fill event.
func (r *Recorder) RecordFillIngested(symbol string) {
	r.fillsIngested.WithLabelValues(symbol).Inc()
}

// RecordSnapshotRouted records a snapshot routed to a backend.
func (r *Recorder) RecordSnapshotRouted(backend, bottleneck string) {
	r.snapshotsRouted.WithLabelValues(backend, bottleneck).Inc()
}

// RecordCapacity records the current capacity gauges.
func (r *Recorder) RecordCapacity(mean, minimum, last float64) {
	r.capacityMean.Set(mean)
	r.capacityMinimum.Set(minimum)
	r.capacityLast.Set(last)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
