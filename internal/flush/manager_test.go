package flush

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trackq/internal/connectivity"
	"github.com/roach88/trackq/internal/deadletter"
	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/metrics"
	"github.com/roach88/trackq/internal/repository"
	"github.com/roach88/trackq/internal/store"
	tu "github.com/roach88/trackq/internal/testutil"
	"github.com/roach88/trackq/internal/transport"
)

type fixture struct {
	repo     *repository.Repository
	tr       *tu.ScriptedTransport
	probe    *connectivity.State
	letters  *deadletter.Memory
	metrics  *metrics.Metrics
	finished atomic.Int32
	mgr      *Manager
}

func newFixture(t *testing.T, maxTries int, def transport.Outcome) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		repo:    repository.New(s.Bucket(repository.DefaultBucket), nil),
		tr:      tu.NewScriptedTransport(def),
		probe:   connectivity.NewState(true),
		letters: &deadletter.Memory{},
		metrics: metrics.New(),
	}
	f.mgr, err = New(Config{MaxTries: maxTries}, Dependencies{
		Queue:       f.repo,
		Transport:   f.tr,
		Probe:       f.probe,
		DeadLetters: f.letters,
		Metrics:     f.metrics,
		OnFinish:    func(Result) { f.finished.Add(1) },
		Now:         tu.NewStepClock(tu.DefaultEpoch, time.Millisecond).Now,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) add(t *testing.T, ids ...string) {
	t.Helper()
	for i, id := range ids {
		require.True(t, f.repo.Add(context.Background(), event.TrackedEvent{
			ID:        id,
			ProjectID: "proj",
			Route:     event.RouteCustomerEvent,
			Payload: event.Payload{
				CustomerIDs: map[string]string{"registered": "u"},
				EventType:   "test",
			},
			InsertedAt: int64(i + 1),
		}))
	}
}

func (f *fixture) queued(t *testing.T) map[string]int {
	t.Helper()
	out := map[string]int{}
	for _, ev := range f.repo.All(context.Background()) {
		out[ev.ID] = ev.Attempts
	}
	return out
}

func TestCycleDeliversInFIFOOrder(t *testing.T) {
	f := newFixture(t, 10, transport.Delivered)
	f.add(t, "e3", "e1", "e2")

	res, ok := f.mgr.FlushSync(context.Background())
	require.True(t, ok)

	assert.Equal(t, []string{"e3", "e1", "e2"}, f.tr.Sent())
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, res.Delivered)
	assert.Empty(t, f.queued(t))
	assert.Equal(t, int32(1), f.finished.Load())
}

func TestCycleMixedOutcomes(t *testing.T) {
	f := newFixture(t, 10, transport.Delivered)
	f.tr.Script("e2", transport.RetryableFailure)
	f.add(t, "e1", "e2", "e3")

	res, ok := f.mgr.FlushSync(context.Background())
	require.True(t, ok)

	assert.Equal(t, map[string]int{"e2": 1}, f.queued(t))
	assert.Equal(t, Result{
		Processed:  3,
		Delivered:  2,
		Retained:   1,
		StartedAt:  tu.DefaultEpoch,
		FinishedAt: tu.DefaultEpoch.Add(time.Millisecond),
	}, res)
	assert.Equal(t, int32(1), f.finished.Load())
	assert.Empty(t, f.letters.Letters())
}

func TestMaxTriesOneDropsOnFirstRetryable(t *testing.T) {
	f := newFixture(t, 1, transport.RetryableFailure)
	f.add(t, "e1")

	res, ok := f.mgr.FlushSync(context.Background())
	require.True(t, ok)

	assert.Empty(t, f.queued(t))
	assert.Equal(t, 1, res.Dropped)

	letters := f.letters.Letters()
	require.Len(t, letters, 1)
	assert.Equal(t, deadletter.ReasonMaxTries, letters[0].Reason)
	assert.Equal(t, 1, letters[0].Attempts)
	assert.Equal(t, 503, letters[0].HTTPStatus)
}

func TestRetryExhaustion(t *testing.T) {
	const k = 3
	f := newFixture(t, k, transport.RetryableFailure)
	f.add(t, "e1")

	for cycle := 1; cycle < k; cycle++ {
		_, ok := f.mgr.FlushSync(context.Background())
		require.True(t, ok)
		assert.Equal(t, map[string]int{"e1": cycle}, f.queued(t), "after cycle %d", cycle)
	}

	_, ok := f.mgr.FlushSync(context.Background())
	require.True(t, ok)
	assert.Empty(t, f.queued(t))
	assert.Len(t, f.tr.Sent(), k)
}

func TestPermanentFailureDropsImmediately(t *testing.T) {
	f := newFixture(t, 10, transport.PermanentFailure)
	f.add(t, "e1")

	res, ok := f.mgr.FlushSync(context.Background())
	require.True(t, ok)

	assert.Equal(t, 1, res.Dropped)
	assert.Empty(t, f.queued(t))
	assert.Len(t, f.tr.Sent(), 1)

	letters := f.letters.Letters()
	require.Len(t, letters, 1)
	assert.Equal(t, deadletter.ReasonPermanent, letters[0].Reason)
	assert.Equal(t, 0, letters[0].Attempts)
	assert.Equal(t, "bad request", letters[0].ResponseBody)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Dropped.WithLabelValues(deadletter.ReasonPermanent)))
}

func TestOfflineCycleTouchesNothing(t *testing.T) {
	f := newFixture(t, 10, transport.RetryableFailure)
	f.add(t, "e1", "e2")
	f.probe.Set(false)

	res, ok := f.mgr.FlushSync(context.Background())
	require.True(t, ok)

	assert.True(t, res.Offline)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, f.tr.Sent())
	assert.Equal(t, map[string]int{"e1": 0, "e2": 0}, f.queued(t))
	assert.Equal(t, int32(1), f.finished.Load(), "offline cycle still reports completion")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FlushCycles.WithLabelValues("offline")))
}

func TestExhaustedEventDroppedWithoutSend(t *testing.T) {
	f := newFixture(t, 2, transport.Delivered)
	require.True(t, f.repo.Add(context.Background(), event.TrackedEvent{
		ID:        "old",
		ProjectID: "proj",
		Route:     event.RouteCustomerUpdate,
		Payload:   event.Payload{CustomerIDs: map[string]string{"cookie": "c"}},
		Attempts:  5, // persisted under a higher limit
	}))
	f.add(t, "fresh")

	res, ok := f.mgr.FlushSync(context.Background())
	require.True(t, ok)

	assert.Equal(t, []string{"fresh"}, f.tr.Sent())
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Delivered)
	letters := f.letters.Letters()
	require.Len(t, letters, 1)
	assert.Equal(t, "old", letters[0].Event.ID)
	assert.Equal(t, 0, letters[0].HTTPStatus)
}

func TestSingleFlight(t *testing.T) {
	f := newFixture(t, 10, transport.Delivered)
	f.add(t, "e1", "e2")
	entered, release := f.tr.Block()

	done, ok := f.mgr.Flush(context.Background())
	require.True(t, ok)
	assert.Equal(t, "e1", <-entered)
	assert.Equal(t, Running, f.mgr.State())

	// Concurrent triggers while the cycle is held open are all no-ops.
	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ch, ok := f.mgr.Flush(context.Background()); ok || ch != nil {
				started.Add(1)
			}
			f.mgr.FlushData()
		}()
	}
	wg.Wait()
	_, ok = f.mgr.FlushSync(context.Background())
	assert.False(t, ok)
	assert.Equal(t, int32(0), started.Load())

	release()
	res, open := <-done
	require.True(t, open)
	assert.Equal(t, 2, res.Delivered)
	_, open = <-done
	assert.False(t, open, "result channel is closed after one value")

	f.mgr.Wait()
	assert.Equal(t, Idle, f.mgr.State())
	assert.Equal(t, []string{"e1", "e2"}, f.tr.Sent(), "each event sent exactly once")
	assert.Equal(t, int32(1), f.finished.Load())
	assert.Equal(t, 21.0, testutil.ToFloat64(f.metrics.FlushCycles.WithLabelValues("skipped")))
}

func TestCycleIgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t, 10, transport.Delivered)
	f.add(t, "e1", "e2", "e3")
	entered, release := f.tr.Block()

	ctx, cancel := context.WithCancel(context.Background())
	done, ok := f.mgr.Flush(ctx)
	require.True(t, ok)
	<-entered
	cancel()
	release()

	res := <-done
	assert.Equal(t, 3, res.Delivered)
	assert.Empty(t, f.queued(t))
}

func TestEventsAddedDuringCycleWaitForNextCycle(t *testing.T) {
	f := newFixture(t, 10, transport.Delivered)
	f.add(t, "e1")
	entered, release := f.tr.Block()

	done, ok := f.mgr.Flush(context.Background())
	require.True(t, ok)
	<-entered
	f.add(t, "late")
	release()

	res := <-done
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, map[string]int{"late": 0}, f.queued(t))
}

func TestOnFinishCanStartNextCycle(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer s.Close()
	repo := repository.New(s.Bucket(repository.DefaultBucket), nil)

	var mgr *Manager
	var once, restarted atomic.Bool
	mgr, err = New(Config{}, Dependencies{
		Queue:     repo,
		Transport: tu.NewScriptedTransport(transport.Delivered),
		OnFinish: func(Result) {
			if once.CompareAndSwap(false, true) {
				_, ok := mgr.Flush(context.Background())
				restarted.Store(ok)
			}
		},
	})
	require.NoError(t, err)

	_, ok := mgr.FlushSync(context.Background())
	require.True(t, ok)
	mgr.Wait()
	assert.True(t, restarted.Load())
	assert.Equal(t, DefaultMaxTries, mgr.MaxTries())
}

func TestNewValidation(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer s.Close()
	repo := repository.New(s.Bucket(repository.DefaultBucket), nil)
	tr := tu.NewScriptedTransport(transport.Delivered)

	_, err = New(Config{MaxTries: -1}, Dependencies{Queue: repo, Transport: tr})
	assert.Error(t, err)

	_, err = New(Config{}, Dependencies{Transport: tr})
	assert.Error(t, err)

	_, err = New(Config{}, Dependencies{Queue: repo})
	assert.Error(t, err)
}

func TestMetricsAfterCycle(t *testing.T) {
	f := newFixture(t, 10, transport.Delivered)
	f.tr.Script("e2", transport.RetryableFailure)
	f.add(t, "e1", "e2")

	_, ok := f.mgr.FlushSync(context.Background())
	require.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues("retryable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Retries.WithLabelValues("http_5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FlushCycles.WithLabelValues("completed")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
}
