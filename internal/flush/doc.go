// Package flush drains the event queue through a Transport.
//
// A flush cycle snapshots the queue and walks it oldest first, sending one
// event at a time. Each event ends the cycle in exactly one of three states:
//   - delivered: removed from the queue
//   - retained: attempts incremented and persisted, retried next cycle
//   - dropped: removed and handed to the dead-letter sink
//
// Thread-safety model:
//   - Flush(), FlushData(), FlushSync(), State(): safe from any goroutine
//   - at most one cycle runs at a time; a trigger during a cycle is a no-op
//   - sends within a cycle are sequential
//
// INVARIANTS:
//   - attempts only grows, and only after a send was rejected as retryable
//   - an event with attempts >= MaxTries is dropped without being sent
//   - an offline cycle touches nothing but still reports completion
//   - once started, a cycle runs to the end of its snapshot; caller
//     cancellation does not stop it
package flush
