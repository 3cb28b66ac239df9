package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	CapacityLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "captrack",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of capacity endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CapacityErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captrack",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by capacity endpoint",
		},
		[]string{"endpoint"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(CapacityLatency, CapacityErrors)
	})
}
