package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trackq/internal/flush"
)

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	result := &Result{
		Trace: []TraceEvent{
			{Type: TraceSend, Seq: 1, EventID: "e1", Outcome: "delivered"},
			{Type: TraceCycle, Seq: 2, Summary: &flush.Result{Processed: 1, Delivered: 1}},
		},
		Queue: []QueuedEvent{},
	}

	first, err := MarshalSnapshot("snap", result)
	require.NoError(t, err)
	second, err := MarshalSnapshot("snap", result)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	want := `{"queue":[],"scenario_name":"snap","trace":[` +
		`{"attempts":0,"cycle":0,"event_id":"e1","outcome":"delivered","seq":1,"type":"send"},` +
		`{"cycle":0,"delivered":1,"dropped":0,"offline":false,"processed":1,"retained":0,"seq":2,"type":"cycle"}]}`
	assert.Equal(t, want, string(first))
}

func TestMarshalSnapshot_OmitsCycleTimestamps(t *testing.T) {
	result := &Result{
		Trace: []TraceEvent{{Type: TraceCycle, Seq: 1, Summary: &flush.Result{Offline: true}}},
		Queue: []QueuedEvent{{ID: "e1"}},
	}

	data, err := MarshalSnapshot("offline", result)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "started_at")
	assert.Contains(t, string(data), `"queue":[{"attempts":0,"id":"e1"}]`)
}

func TestAssertGolden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/fifo_delivery.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, "fifo_delivery", result))
}
