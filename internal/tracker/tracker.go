// Package tracker is the producer-facing entry point. A Tracker owns the
// queue, the flush manager and the flush schedule; it is created once and
// passed explicitly to whoever tracks events.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/roach88/trackq/internal/config"
	"github.com/roach88/trackq/internal/connectivity"
	"github.com/roach88/trackq/internal/deadletter"
	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/flush"
	"github.com/roach88/trackq/internal/metrics"
	"github.com/roach88/trackq/internal/repository"
	"github.com/roach88/trackq/internal/store"
	"github.com/roach88/trackq/internal/transport"
)

const (
	deviceBucket = "device"
	installedKey = "install_tracked"

	// EventTypeInstall is the event type sent once per installation.
	EventTypeInstall = "installation"
)

// Tracker queues events and schedules their delivery.
//
// Thread-safety: every method is safe for concurrent use.
type Tracker struct {
	cfg      config.Config
	store    *store.Store
	ownStore bool
	repo     *repository.Repository
	device   *store.Bucket
	manager  *flush.Manager
	monitor  *connectivity.Monitor
	clock    *event.Clock
	ids      event.IDGenerator
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
	stops    []func()

	// addMu makes InsertedAt order match queue order across producers.
	addMu sync.Mutex
	// installMu serialises the install check, track and flag write.
	installMu sync.Mutex

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a Tracker from cfg. Components not supplied through options are
// built from cfg: the SQLite store, the HTTP transport, the connectivity
// monitor and the dead-letter sinks.
func New(cfg config.Config, opts ...Option) (*Tracker, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("project id is required")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.ids == nil {
		o.ids = event.UUIDv7Generator{}
	}
	if o.now == nil {
		o.now = time.Now
	}

	t := &Tracker{
		cfg:     cfg,
		ids:     o.ids,
		now:     o.now,
		clock:   event.NewClockWithSource(o.now),
		metrics: o.metrics,
		logger:  o.logger.With("component", "tracker"),
	}

	t.store = o.store
	if t.store == nil {
		s, err := store.Open(cfg.DatabasePath, store.WithLogger(o.logger))
		if err != nil {
			return nil, fmt.Errorf("open queue: %w", err)
		}
		t.store = s
		t.ownStore = true
	}
	t.repo = repository.New(t.store.Bucket(repository.DefaultBucket), o.logger)
	t.device = t.store.Bucket(deviceBucket)

	if err := t.wire(o); err != nil {
		t.closeResources()
		return nil, err
	}
	return t, nil
}

func (t *Tracker) wire(o options) error {
	tr := o.transport
	if tr == nil {
		h, err := transport.NewHTTP(transport.Config{
			BaseURL:       t.cfg.BaseURL,
			Authorization: t.cfg.Authorization,
			Timeout:       t.cfg.RequestTimeout,
		}, &http.Client{}, o.logger)
		if err != nil {
			return err
		}
		tr = h
	}

	probe := o.probe
	if probe == nil {
		if t.cfg.Connectivity.Address != "" {
			t.monitor = connectivity.NewMonitor(connectivity.MonitorConfig{
				Address:  t.cfg.Connectivity.Address,
				Interval: t.cfg.Connectivity.Interval,
				Timeout:  t.cfg.Connectivity.Timeout,
			}, o.logger)
			probe = t.monitor
		} else {
			probe = connectivity.Static(true)
		}
	}

	sink := o.deadLetters
	if sink == nil {
		sinks := deadletter.Multi{deadletter.LogSink{Logger: o.logger}}
		if t.cfg.DeadLetter.NSQDAddress != "" {
			nsqSink, err := deadletter.NewNSQSink(t.cfg.DeadLetter.NSQDAddress, t.cfg.DeadLetter.Topic)
			if err != nil {
				return err
			}
			t.stops = append(t.stops, nsqSink.Stop)
			sinks = append(sinks, nsqSink)
		}
		sink = sinks
	}

	mgr, err := flush.New(flush.Config{MaxTries: t.cfg.MaxTries}, flush.Dependencies{
		Queue:       t.repo,
		Transport:   tr,
		Probe:       probe,
		DeadLetters: sink,
		Metrics:     o.metrics,
		Logger:      o.logger,
		OnFinish:    o.onFinish,
		Now:         o.now,
	})
	if err != nil {
		return err
	}
	t.manager = mgr
	return nil
}

// Track queues an event for route. It never performs network I/O itself;
// in immediate mode it triggers a background flush afterwards.
func (t *Tracker) Track(ctx context.Context, route event.Route, payload event.Payload) bool {
	if !route.Valid() {
		t.logger.Warn("track rejected, unknown route", "route", route)
		return false
	}
	if payload.Timestamp == 0 {
		payload.Timestamp = unixSeconds(t.now())
	}

	ev := event.TrackedEvent{
		ID:        t.ids.Generate(),
		ProjectID: t.cfg.ProjectID,
		Route:     route,
		Payload:   payload,
	}
	t.addMu.Lock()
	ev.InsertedAt = t.clock.Next()
	added := t.repo.Add(ctx, ev)
	t.addMu.Unlock()
	if !added {
		return false
	}
	t.metrics.RecordTracked()
	t.logger.Debug("event tracked", "event_id", ev.ID, "route", route)

	if t.cfg.FlushMode == config.FlushImmediate {
		t.manager.FlushData()
	}
	return true
}

// TrackEvent queues a customer event.
func (t *Tracker) TrackEvent(ctx context.Context, eventType string, customerIDs map[string]string, properties map[string]any) bool {
	return t.Track(ctx, event.RouteCustomerEvent, event.Payload{
		CustomerIDs: customerIDs,
		EventType:   eventType,
		Properties:  properties,
	})
}

// UpdateCustomer queues a customer property update.
func (t *Tracker) UpdateCustomer(ctx context.Context, customerIDs map[string]string, properties map[string]any) bool {
	return t.Track(ctx, event.RouteCustomerUpdate, event.Payload{
		CustomerIDs: customerIDs,
		Properties:  properties,
	})
}

// TrackCampaignClick queues a campaign click for url.
func (t *Tracker) TrackCampaignClick(ctx context.Context, customerIDs map[string]string, url string, properties map[string]any) bool {
	return t.Track(ctx, event.RouteCampaignClick, event.Payload{
		CustomerIDs: customerIDs,
		URL:         url,
		Properties:  properties,
	})
}

// TrackInstall queues the installation event the first time it is called
// for this database. Later calls, concurrent ones included, return false
// without queueing anything.
func (t *Tracker) TrackInstall(ctx context.Context, customerIDs map[string]string) bool {
	t.installMu.Lock()
	defer t.installMu.Unlock()

	_, done, err := t.device.Get(ctx, installedKey)
	if err != nil {
		t.logger.Error("read install flag failed", "error", err)
		return false
	}
	if done {
		return false
	}

	ok := t.TrackEvent(ctx, EventTypeInstall, customerIDs, map[string]any{
		"sdk":         "trackq",
		"sdk_version": event.ClientVersion,
		"os_name":     runtime.GOOS,
	})
	if !ok {
		return false
	}
	if err := t.device.Put(ctx, installedKey, []byte("true")); err != nil {
		t.logger.Error("persist install flag failed", "error", err)
	}
	return true
}

// FlushData triggers a background flush cycle.
func (t *Tracker) FlushData() {
	t.manager.FlushData()
}

// Flush starts a cycle and returns its result channel. See flush.Manager.Flush.
func (t *Tracker) Flush(ctx context.Context) (<-chan flush.Result, bool) {
	return t.manager.Flush(ctx)
}

// FlushSync runs a cycle on the calling goroutine.
func (t *Tracker) FlushSync(ctx context.Context) (flush.Result, bool) {
	return t.manager.FlushSync(ctx)
}

// State reports whether a flush cycle is running.
func (t *Tracker) State() flush.State {
	return t.manager.State()
}

// Events returns the queued events, oldest first.
func (t *Tracker) Events(ctx context.Context) []event.TrackedEvent {
	return t.repo.All(ctx)
}

// Clear empties the queue.
func (t *Tracker) Clear(ctx context.Context) bool {
	return t.repo.Clear(ctx)
}

// Count returns the queue depth.
func (t *Tracker) Count(ctx context.Context) int {
	return t.repo.Count(ctx)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
