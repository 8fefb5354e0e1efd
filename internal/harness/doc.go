// Package harness runs flush conformance scenarios.
//
// A scenario queues events, scripts what the transport answers for each of
// them, and runs a series of flush cycles against the real flush manager.
// The resulting trace of sends, drops and cycle summaries is checked
// against assertions and, in tests, against golden snapshots.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	max_tries: 3
//	events:
//	  - id: e1
//	    route: customer_event
//	    event_type: view
//	    outcomes: [retryable, delivered]
//	  - id: e2
//	    route: customer_update
//	    before_cycle: 1
//	cycles:
//	  - online: false
//	    expect: { processed: 0, delivered: 0, retained: 0, dropped: 0, offline: true }
//	  - expect: { processed: 2, delivered: 1, retained: 1, dropped: 0, offline: false }
//	assertions:
//	  - type: trace_order
//	    events: [e1, e2]
//	  - type: final_state
//	    queue: [{ id: e1, attempts: 1 }]
//
// # Assertion Types
//
//   - trace_contains: a send (optionally with an outcome) or a drop
//     (optionally with a reason) of an event appears in the trace
//   - trace_order: first sends of the events appear in the given order
//   - trace_count: an event was sent exactly N times
//   - final_state: the queue holds exactly the listed events and attempts
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite queue, fixed event ids and a step
// clock, so identical scenarios produce identical traces.
package harness
