// AngelaMos | 2026
// metrics.go

package core

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once

	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	LedgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger procedure invocations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	LedgerCreditsMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_credits_moved_total",
			Help: "Credits debited or credited through ledger procedures.",
		},
		[]string{"direction"},
	)

	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests refused by a rate limiter, by limiter and backend.",
		},
		[]string{"limiter", "backend"},
	)

	RealtimeSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_subscribers",
		Help: "Open realtime subscriptions on this instance.",
	})

	RealtimeEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Realtime change events published by table.",
		},
		[]string{"table"},
	)
)

// InitMetrics registers the service collectors with the default registry.
// Safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			HTTPInFlight,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			LedgerOperations,
			LedgerCreditsMoved,
			RateLimitRejections,
			RealtimeSubscribers,
			RealtimeEventsPublished,
		)
	})
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
