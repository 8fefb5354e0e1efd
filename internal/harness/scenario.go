package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/transport"
)

// Scenario defines a flush conformance scenario.
// Events are queued, the transport answers with scripted outcomes, and a
// sequence of flush cycles runs against the real flush manager.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// MaxTries bounds delivery attempts. Zero means the manager default.
	MaxTries int `yaml:"max_tries,omitempty"`

	// ProjectID is stamped on every event. Defaults to "scenario".
	ProjectID string `yaml:"project_id,omitempty"`

	// Events are queued in the order listed.
	Events []EventStep `yaml:"events"`

	// Cycles run in order; each is one FlushSync call.
	Cycles []CycleStep `yaml:"cycles"`

	// Assertions validate the final trace and queue.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// EventStep is one event to queue.
type EventStep struct {
	// ID is the fixed event id.
	ID string `yaml:"id"`

	// Route names the collection route, e.g. "customer_event".
	Route string `yaml:"route"`

	// EventType is required for customer events.
	EventType string `yaml:"event_type,omitempty"`

	// CustomerIDs defaults to {registered: <id>}.
	CustomerIDs map[string]string `yaml:"customer_ids,omitempty"`

	// Properties are copied to the payload as-is.
	Properties map[string]interface{} `yaml:"properties,omitempty"`

	// URL is required for campaign clicks.
	URL string `yaml:"url,omitempty"`

	// Attempts pre-seeds the persisted attempt count.
	Attempts int `yaml:"attempts,omitempty"`

	// Outcomes scripts the transport answers for this event, consumed one per
	// send. Once exhausted the transport reports delivered.
	Outcomes []string `yaml:"outcomes,omitempty"`

	// BeforeCycle queues the event right before the given cycle runs
	// instead of before the first one.
	BeforeCycle int `yaml:"before_cycle,omitempty"`
}

// CycleStep configures one flush cycle.
type CycleStep struct {
	// Online sets connectivity for this cycle. Defaults to true.
	Online *bool `yaml:"online,omitempty"`

	// Expect, when present, must equal the cycle counters exactly.
	Expect *CycleExpect `yaml:"expect,omitempty"`
}

// CycleExpect lists the expected counters of a cycle.
type CycleExpect struct {
	Processed int  `yaml:"processed"`
	Delivered int  `yaml:"delivered"`
	Retained  int  `yaml:"retained"`
	Dropped   int  `yaml:"dropped"`
	Offline   bool `yaml:"offline"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a send or drop of Event appears in the trace
	// - "trace_order": first sends of Events appear in order
	// - "trace_count": Event was sent exactly Count times
	// - "final_state": the queue equals Queue exactly
	Type string `yaml:"type"`

	// Kind is "send" or "drop" (used by trace_contains, default "send").
	Kind string `yaml:"kind,omitempty"`

	// Event is the event id (used by trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Outcome filters sends by outcome (used by trace_contains).
	Outcome string `yaml:"outcome,omitempty"`

	// Reason filters drops by reason (used by trace_contains).
	Reason string `yaml:"reason,omitempty"`

	// Count is the expected number of sends (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected send order (used by trace_order).
	Events []string `yaml:"events,omitempty"`

	// Queue is the expected final queue, oldest first (used by final_state).
	Queue []QueuedEvent `yaml:"queue,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads a scenario file. See ParseScenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes scenario YAML, rejecting unknown keys, and checks
// it. Every problem is reported, not only the first.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", s.Name, err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	var errs []error
	problem := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if s.Name == "" {
		problem("name is required")
	}
	if s.Description == "" {
		problem("description is required")
	}
	if s.MaxTries < 0 {
		problem("max_tries must be non-negative")
	}
	if len(s.Events) == 0 {
		problem("events list is required and must be non-empty")
	}
	if len(s.Cycles) == 0 {
		problem("cycles list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		problem("assertions list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Events))
	for i, ev := range s.Events {
		switch {
		case ev.ID == "":
			problem("events[%d]: id is required", i)
		case seen[ev.ID]:
			problem("events[%d]: duplicate id %q", i, ev.ID)
		}
		seen[ev.ID] = true

		if _, err := event.ParseRoute(ev.Route); err != nil {
			problem("events[%d]: %w", i, err)
		}
		if ev.Attempts < 0 {
			problem("events[%d]: attempts must be non-negative", i)
		}
		if len(s.Cycles) > 0 && (ev.BeforeCycle < 0 || ev.BeforeCycle >= len(s.Cycles)) {
			problem("events[%d]: before_cycle %d out of range", i, ev.BeforeCycle)
		}
		for j, o := range ev.Outcomes {
			if _, err := ParseOutcome(o); err != nil {
				problem("events[%d].outcomes[%d]: %w", i, j, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := a.validate(); err != nil {
			problem("assertions[%d]: %w", i, err)
		}
	}
	return errors.Join(errs...)
}

func (a Assertion) validate() error {
	switch a.Type {
	case "":
		return errors.New("type is required")
	case AssertTraceContains:
		if a.Event == "" {
			return errors.New("event is required for trace_contains")
		}
		if a.Kind != "" && a.Kind != TraceSend && a.Kind != TraceDrop {
			return errors.New("kind must be send or drop")
		}
		if a.Outcome != "" {
			if _, err := ParseOutcome(a.Outcome); err != nil {
				return err
			}
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return errors.New("events list is required for trace_order")
		}
	case AssertTraceCount:
		if a.Event == "" {
			return errors.New("event is required for trace_count")
		}
		if a.Count < 0 {
			return errors.New("count must be non-negative for trace_count")
		}
	case AssertFinalState:
		// an empty queue asserts the queue drained
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// ParseOutcome maps "delivered", "retryable" or "permanent" to an Outcome.
func ParseOutcome(s string) (transport.Outcome, error) {
	for _, o := range []transport.Outcome{transport.Delivered, transport.RetryableFailure, transport.PermanentFailure} {
		if strings.EqualFold(s, o.String()) {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}
