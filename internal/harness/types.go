package harness

import "github.com/roach88/trackq/internal/flush"

// Trace event types.
const (
	TraceSend  = "send"
	TraceDrop  = "drop"
	TraceCycle = "cycle"
)

// TraceEvent is one observable step of a scenario run: a send attempt, a
// dead-lettered event, or the summary of a finished cycle.
type TraceEvent struct {
	Type     string `json:"type"`
	Seq      int64  `json:"seq"`
	Cycle    int    `json:"cycle"`
	EventID  string `json:"event_id,omitempty"`
	Outcome  string `json:"outcome,omitempty"` // send only
	Attempts int    `json:"attempts"`          // attempts recorded on the event at that point
	Reason   string `json:"reason,omitempty"`  // drop only

	Summary *flush.Result `json:"summary,omitempty"` // cycle only
}

// QueuedEvent is an event still in the queue after the scenario finished.
type QueuedEvent struct {
	ID       string `json:"id" yaml:"id"`
	Attempts int    `json:"attempts" yaml:"attempts"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every cycle expectation and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains sends, drops and cycle summaries in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Queue is the final queue content, oldest first.
	Queue []QueuedEvent `json:"queue"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Queue:  []QueuedEvent{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
