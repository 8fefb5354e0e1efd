// Package metrics holds the Prometheus collectors for the delivery pipeline.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups trackq collectors. Create with New and register once.
type Metrics struct {
	EventsTracked   prometheus.Counter
	Deliveries      *prometheus.CounterVec // outcome
	Retries         *prometheus.CounterVec // reason
	Dropped         *prometheus.CounterVec // reason
	FlushCycles     *prometheus.CounterVec // result
	QueueDepth      prometheus.Gauge
	DeliveryLatency prometheus.Histogram
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		EventsTracked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackq_events_tracked_total",
			Help: "Total number of events accepted into the queue.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackq_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackq_retries_total",
			Help: "Total number of retryable delivery failures by reason.",
		}, []string{"reason"}), // e.g. http_5xx, timeout, network
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackq_dropped_total",
			Help: "Total number of events dropped without delivery by reason.",
		}, []string{"reason"}),
		FlushCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackq_flush_cycles_total",
			Help: "Total number of flush cycles by result.",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trackq_queue_depth",
			Help: "Number of events waiting for delivery after the last cycle.",
		}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trackq_delivery_latency_seconds",
			Help:    "Latency of delivery requests.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// MustRegister registers every collector with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.EventsTracked,
		m.Deliveries,
		m.Retries,
		m.Dropped,
		m.FlushCycles,
		m.QueueDepth,
		m.DeliveryLatency,
	)
}

// RecordTracked counts an accepted event.
func (m *Metrics) RecordTracked() {
	if m == nil {
		return
	}
	m.EventsTracked.Inc()
}

// RecordDelivery counts one attempt and observes its latency.
func (m *Metrics) RecordDelivery(outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
	m.DeliveryLatency.Observe(latency.Seconds())
}

// RecordRetry counts a retryable failure.
func (m *Metrics) RecordRetry(reason string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(reason).Inc()
}

// RecordDrop counts a dropped event.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

// RecordCycle counts a finished (or skipped) flush cycle.
func (m *Metrics) RecordCycle(result string) {
	if m == nil {
		return
	}
	m.FlushCycles.WithLabelValues(result).Inc()
}

// SetQueueDepth records the current queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
