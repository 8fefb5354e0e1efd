package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/trackq/internal/event"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// It is serialised with event.MarshalWire so key order is deterministic.
type TraceSnapshot struct {
	ScenarioName string        `json:"scenario_name"`
	Trace        []TraceEvent  `json:"trace"`
	Queue        []QueuedEvent `json:"queue"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for wire
// serialisation. Cycle timestamps are left out; only counters are kept.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, te := range s.Trace {
		m := map[string]any{
			"type":  te.Type,
			"seq":   te.Seq,
			"cycle": te.Cycle,
		}
		switch te.Type {
		case TraceSend:
			m["event_id"] = te.EventID
			m["outcome"] = te.Outcome
			m["attempts"] = te.Attempts
		case TraceDrop:
			m["event_id"] = te.EventID
			m["reason"] = te.Reason
			m["attempts"] = te.Attempts
		case TraceCycle:
			if te.Summary != nil {
				m["processed"] = te.Summary.Processed
				m["delivered"] = te.Summary.Delivered
				m["retained"] = te.Summary.Retained
				m["dropped"] = te.Summary.Dropped
				m["offline"] = te.Summary.Offline
			}
		}
		traceList[i] = m
	}

	queueList := make([]any, len(s.Queue))
	for i, q := range s.Queue {
		queueList[i] = map[string]any{"id": q.ID, "attempts": q.Attempts}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"queue":         queueList,
	}
}

// MarshalSnapshot renders the deterministic JSON snapshot of a result.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Queue:        result.Queue,
	}
	return event.MarshalWire(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
