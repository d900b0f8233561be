// Package metrics exposes cartflow's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	cartOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cartflow",
			Subsystem: "cart",
			Name:      "operations_total",
			Help:      "Total number of cart operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	cartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cartflow",
			Subsystem: "cart",
			Name:      "operation_duration_seconds",
			Help:      "Duration of cart operations including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"op"},
	)

	cartRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cartflow",
			Subsystem: "cart",
			Name:      "tx_retries_total",
			Help:      "Units of work retried after a store conflict.",
		},
		[]string{"op"},
	)

	cartCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cartflow",
			Subsystem: "cart",
			Name:      "cache_requests_total",
			Help:      "Cart query cache lookups by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		cartOperations,
		cartDuration,
		cartRetries,
		cartCache,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Cart records cart engine and query metrics into Registry.
type Cart struct{}

// ObserveOperation counts one finished operation and its latency.
func (Cart) ObserveOperation(op, outcome string, elapsed time.Duration) {
	cartOperations.WithLabelValues(op, outcome).Inc()
	cartDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveRetry counts one retried unit of work.
func (Cart) ObserveRetry(op string) {
	cartRetries.WithLabelValues(op).Inc()
}

// ObserveCache counts one cache lookup; result is hit, miss or error.
func (Cart) ObserveCache(result string) {
	cartCache.WithLabelValues(result).Inc()
}
