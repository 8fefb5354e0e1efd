// Package repository stores TrackedEvents in a store bucket.
//
// Storage failures never escape as errors: they are logged and reported as
// false, absent or empty. Callers decide policy from the boolean alone.
package repository

import (
	"context"
	"log/slog"

	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/store"
)

// DefaultBucket holds the pending event queue.
const DefaultBucket = "events"

// Repository is the typed event queue.
type Repository struct {
	bucket *store.Bucket
	logger *slog.Logger
}

// New creates a repository over the given bucket. A nil logger uses slog.Default().
func New(bucket *store.Bucket, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		bucket: bucket,
		logger: logger.With("bucket", bucket.Name()),
	}
}

// Add persists a new event. Returns false if the event has no id or the
// store rejects the write.
func (r *Repository) Add(ctx context.Context, ev event.TrackedEvent) bool {
	if ev.ID == "" {
		r.logger.Warn("refusing to add event without id", "route", ev.Route)
		return false
	}
	return r.put(ctx, "add", ev)
}

// Get returns the event with the given id.
func (r *Repository) Get(ctx context.Context, id string) (event.TrackedEvent, bool) {
	data, ok, err := r.bucket.Get(ctx, id)
	if err != nil {
		r.logger.Error("get event failed", "id", id, "error", err)
		return event.TrackedEvent{}, false
	}
	if !ok {
		return event.TrackedEvent{}, false
	}
	ev, err := event.UnmarshalRecord(data)
	if err != nil {
		r.logger.Warn("undecodable event record", "id", id, "error", err)
		return event.TrackedEvent{}, false
	}
	return ev, true
}

// Update overwrites an existing event in place. An event that is no longer
// stored, including one removed by a concurrent Clear, is not written back;
// Update returns false for it.
func (r *Repository) Update(ctx context.Context, ev event.TrackedEvent) bool {
	data, err := event.MarshalRecord(ev)
	if err != nil {
		r.logger.Error("update event: encode failed", "id", ev.ID, "error", err)
		return false
	}
	replaced, err := r.bucket.Replace(ctx, ev.ID, data)
	if err != nil {
		r.logger.Error("update event: write failed", "id", ev.ID, "error", err)
		return false
	}
	if !replaced {
		r.logger.Debug("update skipped, event no longer stored", "id", ev.ID)
	}
	return replaced
}

// Remove deletes the event. Returns true only if something was removed.
func (r *Repository) Remove(ctx context.Context, id string) bool {
	removed, err := r.bucket.Delete(ctx, id)
	if err != nil {
		r.logger.Error("remove event failed", "id", id, "error", err)
		return false
	}
	return removed
}

// All returns every decodable event in insertion order. Returns an empty
// slice on failure.
func (r *Repository) All(ctx context.Context) []event.TrackedEvent {
	records, err := r.bucket.All(ctx)
	if err != nil {
		r.logger.Error("snapshot failed", "error", err)
		return []event.TrackedEvent{}
	}

	events := make([]event.TrackedEvent, 0, len(records))
	for _, rec := range records {
		ev, err := event.UnmarshalRecord(rec.Data)
		if err != nil {
			r.logger.Warn("skipping undecodable event record", "key", rec.Key, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// Clear removes every stored event.
func (r *Repository) Clear(ctx context.Context) bool {
	if err := r.bucket.Clear(ctx); err != nil {
		r.logger.Error("clear failed", "error", err)
		return false
	}
	return true
}

// Count returns the queue depth, or 0 on failure.
func (r *Repository) Count(ctx context.Context) int {
	n, err := r.bucket.Count(ctx)
	if err != nil {
		r.logger.Error("count failed", "error", err)
		return 0
	}
	return n
}

func (r *Repository) put(ctx context.Context, op string, ev event.TrackedEvent) bool {
	data, err := event.MarshalRecord(ev)
	if err != nil {
		r.logger.Error(op+" event: encode failed", "id", ev.ID, "error", err)
		return false
	}
	if err := r.bucket.Put(ctx, ev.ID, data); err != nil {
		r.logger.Error(op+" event: write failed", "id", ev.ID, "error", err)
		return false
	}
	return true
}
