package tracker

import (
	"log/slog"
	"time"

	"github.com/roach88/trackq/internal/connectivity"
	"github.com/roach88/trackq/internal/deadletter"
	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/flush"
	"github.com/roach88/trackq/internal/metrics"
	"github.com/roach88/trackq/internal/store"
	"github.com/roach88/trackq/internal/transport"
)

type options struct {
	store       *store.Store
	transport   transport.Transport
	probe       connectivity.Probe
	deadLetters deadletter.Sink
	metrics     *metrics.Metrics
	logger      *slog.Logger
	ids         event.IDGenerator
	now         func() time.Time
	onFinish    func(flush.Result)
}

// Option customises a Tracker.
type Option func(*options)

// WithStore uses an already open store. The tracker does not close it.
func WithStore(s *store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithTransport replaces the HTTP transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithProbe replaces the connectivity probe built from config.
func WithProbe(p connectivity.Probe) Option {
	return func(o *options) { o.probe = p }
}

// WithDeadLetters replaces the dead-letter sink built from config.
func WithDeadLetters(s deadletter.Sink) Option {
	return func(o *options) { o.deadLetters = s }
}

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIDGenerator replaces the UUIDv7 id generator.
func WithIDGenerator(g event.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithOnFinish registers a callback fired once per flush cycle.
func WithOnFinish(fn func(flush.Result)) Option {
	return func(o *options) { o.onFinish = fn }
}
