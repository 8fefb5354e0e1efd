package harness

import (
	"fmt"
	"strings"
)

// AssertionError describes a failed assertion along with the trace it was
// checked against.
type AssertionError struct {
	Type  string
	Want  string
	Got   string
	Trace []TraceEvent
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: want %s, got %s\ntrace:\n", e.Type, e.Want, e.Got)
	for _, te := range e.Trace {
		switch te.Type {
		case TraceSend:
			fmt.Fprintf(&b, "  [%d] cycle %d send %s attempts=%d -> %s\n", te.Seq, te.Cycle, te.EventID, te.Attempts, te.Outcome)
		case TraceDrop:
			fmt.Fprintf(&b, "  [%d] cycle %d drop %s attempts=%d reason=%s\n", te.Seq, te.Cycle, te.EventID, te.Attempts, te.Reason)
		}
	}
	return b.String()
}

// assertTraceContains checks if the trace holds a send or drop of the event
// matching the optional outcome or reason filter.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	kind := assertion.Kind
	if kind == "" {
		kind = TraceSend
	}

	for _, te := range trace {
		if te.Type != kind || te.EventID != assertion.Event {
			continue
		}
		if assertion.Outcome != "" && !strings.EqualFold(te.Outcome, assertion.Outcome) {
			continue
		}
		if assertion.Reason != "" && te.Reason != assertion.Reason {
			continue
		}
		return nil
	}

	expected := fmt.Sprintf("%s of %s", kind, assertion.Event)
	if assertion.Outcome != "" {
		expected += " with outcome " + assertion.Outcome
	}
	if assertion.Reason != "" {
		expected += " with reason " + assertion.Reason
	}
	return &AssertionError{
		Type:  AssertTraceContains,
		Want:  expected,
		Got:   "not found in trace",
		Trace: trace,
	}
}

// assertTraceOrder checks that the first sends of the listed events appear
// in the given order. Other sends may appear in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, te := range trace {
		if te.Type != TraceSend {
			continue
		}
		if _, seen := positions[te.EventID]; !seen {
			positions[te.EventID] = i + 1 // 0 means never sent
		}
	}

	for _, id := range assertion.Events {
		if positions[id] == 0 {
			return &AssertionError{
				Type:  AssertTraceOrder,
				Want:  fmt.Sprintf("all events sent: %v", assertion.Events),
				Got:   fmt.Sprintf("never sent: %s", id),
				Trace: trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type: AssertTraceOrder,
				Want: fmt.Sprintf("events sent in order: %v", assertion.Events),
				Got: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that the event was sent exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, te := range trace {
		if te.Type == TraceSend && te.EventID == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:  AssertTraceCount,
			Want:  fmt.Sprintf("%d sends of %s", assertion.Count, assertion.Event),
			Got:   fmt.Sprintf("%d sends", count),
			Trace: trace,
		}
	}

	return nil
}

// assertFinalState checks that the queue holds exactly the listed events,
// in order, with the listed attempt counts.
func assertFinalState(result *Result, assertion Assertion) error {
	want := assertion.Queue
	got := result.Queue

	if len(want) != len(got) {
		return &AssertionError{
			Type:  AssertFinalState,
			Want:  fmt.Sprintf("queue %v", want),
			Got:   fmt.Sprintf("queue %v", got),
			Trace: result.Trace,
		}
	}
	for i := range want {
		if want[i] != got[i] {
			return &AssertionError{
				Type:  AssertFinalState,
				Want:  fmt.Sprintf("queue[%d] = %+v", i, want[i]),
				Got:   fmt.Sprintf("queue[%d] = %+v", i, got[i]),
				Trace: result.Trace,
			}
		}
	}
	return nil
}

var checkers = map[string]func(*Result, Assertion) error{
	AssertTraceContains: func(r *Result, a Assertion) error { return assertTraceContains(r.Trace, a) },
	AssertTraceOrder:    func(r *Result, a Assertion) error { return assertTraceOrder(r.Trace, a) },
	AssertTraceCount:    func(r *Result, a Assertion) error { return assertTraceCount(r.Trace, a) },
	AssertFinalState:    assertFinalState,
}

// EvaluateAssertions runs each assertion against result and returns one
// message per failure, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		check, ok := checkers[a.Type]
		if !ok {
			failures = append(failures, fmt.Sprintf("assertion[%d]: unknown assertion type %q", i, a.Type))
			continue
		}
		if err := check(result, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}
