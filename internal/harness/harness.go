package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/trackq/internal/connectivity"
	"github.com/roach88/trackq/internal/deadletter"
	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/flush"
	"github.com/roach88/trackq/internal/repository"
	"github.com/roach88/trackq/internal/store"
	"github.com/roach88/trackq/internal/testutil"
	"github.com/roach88/trackq/internal/transport"
)

const defaultProjectID = "scenario"

// Harness is the test execution engine.
// It runs scenarios against the real flush manager with a scripted
// transport, a deterministic clock and a fresh in-memory queue.
type Harness struct {
	repo    *repository.Repository
	clock   *event.Clock
	now     func() time.Time
	state   *connectivity.State
	script  *testutil.ScriptedTransport
	manager *flush.Manager
	logger  *slog.Logger

	mu    sync.Mutex
	seq   int64
	cycle int
	trace []TraceEvent
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Script transport outcomes per event
// 3. For each cycle, queue the events due before it, set connectivity and
// run one synchronous flush, checking the expect clause
// 4. Evaluate assertions against the trace and final queue
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with component logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	st, err := store.Open(":memory:", store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	steps := testutil.NewStepClock(testutil.DefaultEpoch, time.Millisecond)
	h := &Harness{
		repo:   repository.New(st.Bucket(repository.DefaultBucket), logger),
		clock:  event.NewClockWithSource(steps.Now),
		now:    steps.Now,
		state:  connectivity.NewState(true),
		script: testutil.NewScriptedTransport(transport.Delivered),
		logger: logger,
	}

	for _, ev := range scenario.Events {
		outcomes := make([]transport.Outcome, 0, len(ev.Outcomes))
		for _, name := range ev.Outcomes {
			o, err := ParseOutcome(name)
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", ev.ID, err)
			}
			outcomes = append(outcomes, o)
		}
		h.script.Script(ev.ID, outcomes...)
	}

	mgr, err := flush.New(flush.Config{MaxTries: scenario.MaxTries}, flush.Dependencies{
		Queue:       h.repo,
		Transport:   transport.Func(h.send),
		Probe:       h.state,
		DeadLetters: deadletter.SinkFunc(h.dropped),
		Logger:      logger,
		Now:         h.now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create flush manager: %w", err)
	}
	h.manager = mgr

	ctx := context.Background()
	result := NewResult()

	for i, cycle := range scenario.Cycles {
		if err := h.queueEvents(ctx, scenario, i); err != nil {
			return nil, err
		}

		online := cycle.Online == nil || *cycle.Online
		h.state.Set(online)
		h.setCycle(i)

		res, ok := h.manager.FlushSync(ctx)
		if !ok {
			return nil, fmt.Errorf("cycle %d: flush rejected", i)
		}
		h.record(TraceEvent{Type: TraceCycle, Summary: &res})

		if cycle.Expect != nil {
			checkCycle(result, i, *cycle.Expect, res)
		}
		h.logger.Info("scenario cycle completed",
			"cycle", i,
			"processed", res.Processed,
			"delivered", res.Delivered,
			"retained", res.Retained,
			"dropped", res.Dropped,
			"offline", res.Offline,
		)
	}

	result.Trace = h.snapshotTrace()
	for _, ev := range h.repo.All(ctx) {
		result.Queue = append(result.Queue, QueuedEvent{ID: ev.ID, Attempts: ev.Attempts})
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// queueEvents adds every event scheduled before cycle.
func (h *Harness) queueEvents(ctx context.Context, s *Scenario, cycle int) error {
	projectID := s.ProjectID
	if projectID == "" {
		projectID = defaultProjectID
	}

	for _, step := range s.Events {
		if step.BeforeCycle != cycle {
			continue
		}
		ids := step.CustomerIDs
		if len(ids) == 0 {
			ids = map[string]string{"registered": step.ID}
		}
		route, err := event.ParseRoute(step.Route)
		if err != nil {
			return fmt.Errorf("event %s: %w", step.ID, err)
		}

		ev := event.TrackedEvent{
			ID:        step.ID,
			ProjectID: projectID,
			Route:     route,
			Payload: event.Payload{
				CustomerIDs: ids,
				EventType:   step.EventType,
				Properties:  step.Properties,
				Timestamp:   float64(h.now().Unix()),
				URL:         step.URL,
			},
			InsertedAt: h.clock.Next(),
			Attempts:   step.Attempts,
		}
		if !h.repo.Add(ctx, ev) {
			return fmt.Errorf("event %s: could not queue", step.ID)
		}
	}
	return nil
}

func (h *Harness) send(ctx context.Context, ev event.TrackedEvent) transport.Result {
	out := h.script.Send(ctx, ev)
	h.record(TraceEvent{
		Type:     TraceSend,
		EventID:  ev.ID,
		Outcome:  out.Outcome.String(),
		Attempts: ev.Attempts,
	})
	return out
}

func (h *Harness) dropped(_ context.Context, l deadletter.Letter) error {
	h.record(TraceEvent{
		Type:     TraceDrop,
		EventID:  l.Event.ID,
		Attempts: l.Attempts,
		Reason:   l.Reason,
	})
	return nil
}

func (h *Harness) setCycle(i int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycle = i
}

// record stamps te with the current cycle and the next sequence number.
func (h *Harness) record(te TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	te.Seq = h.seq
	te.Cycle = h.cycle
	h.trace = append(h.trace, te)
}

func (h *Harness) snapshotTrace() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TraceEvent{}, h.trace...)
}

func checkCycle(result *Result, i int, want CycleExpect, got flush.Result) {
	actual := CycleExpect{
		Processed: got.Processed,
		Delivered: got.Delivered,
		Retained:  got.Retained,
		Dropped:   got.Dropped,
		Offline:   got.Offline,
	}
	if actual != want {
		result.AddError(fmt.Sprintf("cycle %d: expected %+v, got %+v", i, want, actual))
	}
}
