package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/trackq/internal/connectivity"
	"github.com/roach88/trackq/internal/deadletter"
	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/metrics"
	"github.com/roach88/trackq/internal/tracing"
	"github.com/roach88/trackq/internal/transport"
)

// DefaultMaxTries is used when Config.MaxTries is zero.
const DefaultMaxTries = 10

// State reports whether a cycle is in flight.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Queue is the persistence the manager drains. Implemented by
// *repository.Repository.
type Queue interface {
	All(ctx context.Context) []event.TrackedEvent
	Update(ctx context.Context, ev event.TrackedEvent) bool
	Remove(ctx context.Context, id string) bool
	Count(ctx context.Context) int
}

// Config holds the retry policy.
type Config struct {
	// MaxTries is the number of retryable rejections after which an event
	// is dropped. Must be >= 1; zero means DefaultMaxTries.
	MaxTries int
}

// Dependencies are the collaborators of a Manager. Queue and Transport are
// required; everything else has a default.
type Dependencies struct {
	Queue       Queue
	Transport   transport.Transport
	Probe       connectivity.Probe // default: always connected
	DeadLetters deadletter.Sink    // default: LogSink
	Metrics     *metrics.Metrics   // nil records nothing
	Logger      *slog.Logger
	OnFinish    func(Result) // called once per cycle, before the result channel resolves
	Now         func() time.Time
}

// Result summarises one cycle.
type Result struct {
	Processed  int       `json:"processed"` // events in the snapshot
	Delivered  int       `json:"delivered"`
	Retained   int       `json:"retained"`
	Dropped    int       `json:"dropped"`
	Offline    bool      `json:"offline"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Manager runs single-flight flush cycles.
type Manager struct {
	maxTries int
	deps     Dependencies
	logger   *slog.Logger

	sem     *semaphore.Weighted
	running atomic.Bool
	wg      sync.WaitGroup
}

// New validates the configuration and builds a Manager.
func New(cfg Config, deps Dependencies) (*Manager, error) {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = DefaultMaxTries
	}
	if cfg.MaxTries < 1 {
		return nil, fmt.Errorf("max tries must be >= 1, got %d", cfg.MaxTries)
	}
	if deps.Queue == nil {
		return nil, errors.New("flush manager requires a queue")
	}
	if deps.Transport == nil {
		return nil, errors.New("flush manager requires a transport")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Probe == nil {
		deps.Probe = connectivity.Static(true)
	}
	if deps.DeadLetters == nil {
		deps.DeadLetters = deadletter.LogSink{Logger: deps.Logger}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Manager{
		maxTries: cfg.MaxTries,
		deps:     deps,
		logger:   deps.Logger.With("component", "flush"),
		sem:      semaphore.NewWeighted(1),
	}, nil
}

// MaxTries returns the effective retry ceiling.
func (m *Manager) MaxTries() int {
	return m.maxTries
}

// State returns Running while a cycle is in flight.
func (m *Manager) State() State {
	if m.running.Load() {
		return Running
	}
	return Idle
}

// Flush starts a cycle on a new goroutine. The returned channel yields the
// Result once and is then closed. If a cycle is already running Flush
// returns (nil, false) without blocking.
func (m *Manager) Flush(ctx context.Context) (<-chan Result, bool) {
	if !m.acquire() {
		return nil, false
	}

	done := make(chan Result, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res := m.runAcquired(context.WithoutCancel(ctx))
		done <- res
		close(done)
	}()
	return done, true
}

// FlushData triggers a cycle and returns immediately.
func (m *Manager) FlushData() {
	m.Flush(context.Background())
}

// FlushSync runs a cycle on the calling goroutine. Returns false without
// running if a cycle is already in flight.
func (m *Manager) FlushSync(ctx context.Context) (Result, bool) {
	if !m.acquire() {
		return Result{}, false
	}
	m.wg.Add(1)
	defer m.wg.Done()
	return m.runAcquired(context.WithoutCancel(ctx)), true
}

// Wait blocks until every in-flight cycle has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) acquire() bool {
	if !m.sem.TryAcquire(1) {
		m.logger.Debug("flush already running, trigger ignored")
		m.deps.Metrics.RecordCycle("skipped")
		return false
	}
	m.running.Store(true)
	return true
}

// runAcquired runs the cycle, returns the manager to Idle, then reports.
// Returning to Idle first lets an OnFinish callback start the next cycle.
func (m *Manager) runAcquired(ctx context.Context) Result {
	res := m.cycle(ctx)
	m.running.Store(false)
	m.sem.Release(1)

	if m.deps.OnFinish != nil {
		m.deps.OnFinish(res)
	}
	return res
}

func (m *Manager) cycle(ctx context.Context) Result {
	ctx, span := tracing.StartSpan(ctx, "trackq.flush", attribute.Int("max_tries", m.maxTries))
	defer span.End()

	res := Result{StartedAt: m.deps.Now()}

	if !m.deps.Probe.IsConnected() {
		res.Offline = true
		res.FinishedAt = m.deps.Now()
		tracing.AddSpanEvent(ctx, "flush.offline")
		m.logger.Info("flush skipped, no connectivity")
		m.deps.Metrics.RecordCycle("offline")
		return res
	}

	snapshot := m.deps.Queue.All(ctx)
	for _, ev := range snapshot {
		res.Processed++
		switch m.process(ctx, ev) {
		case stepDelivered:
			res.Delivered++
		case stepRetained:
			res.Retained++
		case stepDropped:
			res.Dropped++
		}
	}

	res.FinishedAt = m.deps.Now()
	m.deps.Metrics.SetQueueDepth(m.deps.Queue.Count(ctx))
	m.deps.Metrics.RecordCycle("completed")
	span.SetAttributes(
		attribute.Int("processed", res.Processed),
		attribute.Int("delivered", res.Delivered),
		attribute.Int("retained", res.Retained),
		attribute.Int("dropped", res.Dropped),
	)
	m.logger.Info("flush finished",
		"processed", res.Processed,
		"delivered", res.Delivered,
		"retained", res.Retained,
		"dropped", res.Dropped,
		"duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	)
	return res
}

type step int

const (
	stepDelivered step = iota
	stepRetained
	stepDropped
)

// process handles one event. Failures are contained here; the cycle always
// moves on to the next event.
func (m *Manager) process(ctx context.Context, ev event.TrackedEvent) step {
	if ev.Attempts >= m.maxTries {
		m.drop(ctx, ev, deadletter.ReasonMaxTries,
			fmt.Sprintf("attempts %d reached max tries %d before send", ev.Attempts, m.maxTries),
			transport.Result{})
		return stepDropped
	}

	out := m.deps.Transport.Send(ctx, ev)
	m.deps.Metrics.RecordDelivery(out.Outcome.String(), out.Latency)

	switch out.Outcome {
	case transport.Delivered:
		if !m.deps.Queue.Remove(ctx, ev.ID) {
			m.logger.Warn("delivered event was already gone from queue", "event_id", ev.ID)
		}
		return stepDelivered

	case transport.RetryableFailure:
		ev.Attempts++
		m.deps.Metrics.RecordRetry(out.Reason())
		if ev.Attempts >= m.maxTries {
			m.drop(ctx, ev, deadletter.ReasonMaxTries,
				fmt.Sprintf("max tries reached (%d)", m.maxTries), out)
			return stepDropped
		}
		if !m.deps.Queue.Update(ctx, ev) {
			m.logger.Warn("could not persist attempt count", "event_id", ev.ID, "attempts", ev.Attempts)
		}
		m.logger.Debug("delivery will be retried",
			"event_id", ev.ID,
			"attempts", ev.Attempts,
			"reason", out.Reason(),
		)
		return stepRetained

	default:
		m.drop(ctx, ev, deadletter.ReasonPermanent, out.Reason(), out)
		return stepDropped
	}
}

func (m *Manager) drop(ctx context.Context, ev event.TrackedEvent, reason, detail string, out transport.Result) {
	if !m.deps.Queue.Remove(ctx, ev.ID) {
		m.logger.Warn("dropped event was already gone from queue", "event_id", ev.ID)
	}
	m.deps.Metrics.RecordDrop(reason)
	tracing.AddSpanEvent(ctx, "flush.drop",
		attribute.String("event_id", ev.ID),
		attribute.String("reason", reason),
	)

	letter := deadletter.New(ev, reason, detail, out.StatusCode, out.Err, out.Body, m.deps.Now())
	letter.TraceHeaders = tracing.CarrierFromContext(ctx)
	if err := m.deps.DeadLetters.Drop(ctx, letter); err != nil {
		m.logger.Error("dead letter sink failed", "event_id", ev.ID, "error", err)
	}
}
