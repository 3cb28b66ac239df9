package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpMetricsOnce sync.Once

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
	responseSize    *prometheus.HistogramVec
)

func initHTTPMetrics() {
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captrack_http_requests_total",
		Help: "Total HTTP requests served.",
	}, []string{"route", "method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "captrack_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"route", "method", "status"})

	inFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "captrack_http_in_flight_requests",
		Help: "Requests currently being handled.",
	}, []string{"route", "method"})

	responseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "captrack_http_response_size_bytes",
		Help:    "HTTP response body size.",
		Buckets: []float64{200, 500, 1_000, 5_000, 10_000, 50_000, 100_000, 500_000, 1_000_000},
	}, []string{"route", "method", "status"})
}

// Metrics records per-route request counters, latency, in-flight gauge
// and response size. Uses the Echo route template as the label to keep
// cardinality bounded.
func Metrics() echo.MiddlewareFunc {
	httpMetricsOnce.Do(initHTTPMetrics)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			method := c.Request().Method

			inFlight.WithLabelValues(route, method).Inc()
			start := time.Now()

			err := next(c)

			status := strconv.Itoa(c.Response().Status)
			requestsTotal.WithLabelValues(route, method, status).Inc()
			requestDuration.WithLabelValues(route, method, status).Observe(time.Since(start).Seconds())
			responseSize.WithLabelValues(route, method, status).Observe(float64(c.Response().Size))
			inFlight.WithLabelValues(route, method).Dec()

			return err
		}
	}
}
