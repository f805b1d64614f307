package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	MarketLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chartdesk",
			Subsystem: "market",
			Name:      "latency_seconds",
			Help:      "Latency of market-data endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	MarketErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartdesk",
			Subsystem: "market",
			Name:      "errors_total",
			Help:      "Errors by market-data endpoint",
		},
		[]string{"endpoint"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartdesk",
			Subsystem: "market",
			Name:      "cache_hits_total",
			Help:      "Response cache hits by endpoint",
		},
		[]string{"endpoint"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(MarketLatency, MarketErrors, CacheHits)
	})
}
