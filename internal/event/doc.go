// Package event defines the tracked-event model shared by every trackq layer.
//
// This package contains the record types, the fixed route table and the
// deterministic wire encoding. All other internal packages import event;
// event imports nothing internal.
//
// Key constraints:
//   - ID and ProjectID are immutable once an event is queued
//   - Attempts only grows, and only after a rejected delivery
//   - InsertedAt is strictly increasing within a process (see Clock)
//   - All JSON tags use snake_case
package event
