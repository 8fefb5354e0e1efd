package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/trackq/internal/config"
)

// Start launches the background goroutines the configuration asks for: the
// connectivity monitor and, in periodic mode, the flush ticker. They stop
// when ctx is cancelled or Close is called. Start may be called once.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("tracker is closed")
	}
	if t.started {
		return errors.New("tracker already started")
	}
	t.started = true

	ctx, t.cancel = context.WithCancel(ctx)

	if t.monitor != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.monitor.Run(ctx)
		}()
	}

	if t.cfg.FlushMode == config.FlushPeriodic {
		interval := t.cfg.FlushInterval
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.runPeriodic(ctx, interval)
		}()
	}

	t.logger.Info("tracker started", "flush_mode", t.cfg.FlushMode)
	return nil
}

func (t *Tracker) runPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.manager.FlushData()
		}
	}
}

// AppBackgrounded tells the tracker the host went to background. In
// app_close mode this triggers a flush.
func (t *Tracker) AppBackgrounded() {
	if t.cfg.FlushMode == config.FlushAppClose {
		t.logger.Debug("app backgrounded, flushing")
		t.manager.FlushData()
	}
}

// AppForegrounded tells the tracker the host returned to foreground.
func (t *Tracker) AppForegrounded() {
	t.logger.Debug("app foregrounded")
}

// Close stops background goroutines, waits for an in-flight cycle and
// releases the store if the tracker opened it. Close is idempotent.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	t.wg.Wait()
	t.manager.Wait()
	return t.closeResources()
}

func (t *Tracker) closeResources() error {
	for _, stop := range t.stops {
		stop()
	}
	if t.ownStore && t.store != nil {
		return t.store.Close()
	}
	return nil
}
