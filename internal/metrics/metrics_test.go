package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordTracked()
	m.RecordTracked()
	m.RecordDelivery("delivered", 20*time.Millisecond)
	m.RecordDelivery("retryable", time.Second)
	m.RecordRetry("http_5xx")
	m.RecordDrop("max_tries")
	m.RecordCycle("completed")
	m.SetQueueDepth(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTracked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("retryable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("http_5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("max_tries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushCycles.WithLabelValues("completed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))
}

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	m.MustRegister(reg)
	m.RecordDrop("permanent")

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP trackq_dropped_total Total number of events dropped without delivery by reason.
# TYPE trackq_dropped_total counter
trackq_dropped_total{reason="permanent"} 1
`), "trackq_dropped_total")
	require.NoError(t, err)

	assert.Panics(t, func() { m.MustRegister(reg) }, "double registration")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTracked()
		m.RecordDelivery("delivered", time.Millisecond)
		m.RecordRetry("timeout")
		m.RecordDrop("permanent")
		m.RecordCycle("offline")
		m.SetQueueDepth(1)
	})
}
