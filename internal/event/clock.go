package event

import (
	"sync/atomic"
	"time"
)

// Clock stamps InsertedAt values.
//
// Stamps are unix nanoseconds taken from the wall clock but forced to be
// strictly increasing: if the wall clock stalls or steps back, the next stamp
// is last+1. Two events tracked in order therefore never share a stamp.
//
// Thread-safety: Clock is safe for concurrent use (CAS loop).
type Clock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewClock creates a clock reading time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource creates a clock reading the given time source.
// Used by tests to pin wall time.
func NewClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Next returns the next stamp.
func (c *Clock) Next() int64 {
	wall := c.now().UnixNano()
	for {
		prev := c.last.Load()
		next := wall
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Current returns the last issued stamp without advancing.
func (c *Clock) Current() int64 {
	return c.last.Load()
}
