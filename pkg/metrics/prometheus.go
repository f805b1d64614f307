package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksIngested  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	fallbacksTotal *prometheus.CounterVec
	reconnects     prometheus.Counter
	streamState    prometheus.Gauge
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartdesk_ticks_ingested_total",
				Help: "Total number of ticks ingested per backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartdesk_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		fallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartdesk_reconcile_fallbacks_total",
				Help: "Window reconciliation fallbacks by reason",
			},
			[]string{"reason"},
		),
		reconnects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chartdesk_stream_reconnects_total",
				Help: "Total number of stream reconnect attempts",
			},
		),
		streamState: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chartdesk_stream_connected",
				Help: "1 when the realtime stream is connected",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chartdesk_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordTickIngested counts a tick routed to a backend.
func (r *Recorder) RecordTickIngested(backend, symbol string) {
	r.ticksIngested.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordFallback records a reconciliation fallback by reason.
func (r *Recorder) RecordFallback(reason string) {
	r.fallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordReconnect counts a stream reconnect attempt.
func (r *Recorder) RecordReconnect() {
	r.reconnects.Inc()
}

// RecordStreamConnected reflects current stream connectivity.
func (r *Recorder) RecordStreamConnected(connected bool) {
	if connected {
		r.streamState.Set(1)
	} else {
		r.streamState.Set(0)
	}
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
