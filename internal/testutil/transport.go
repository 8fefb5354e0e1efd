package testutil

import (
	"context"
	"sync"

	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/transport"
)

// ScriptedTransport returns predetermined outcomes per event id.
//
// Outcomes for an id are consumed in order; once exhausted (or if none were
// scripted) the default outcome is returned. Every Send is recorded.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedTransport struct {
	mu      sync.Mutex
	def     transport.Outcome
	scripts map[string][]transport.Outcome
	sent    []string
	gate    chan struct{}
	entered chan string
}

// NewScriptedTransport creates a transport answering def unless scripted.
func NewScriptedTransport(def transport.Outcome) *ScriptedTransport {
	return &ScriptedTransport{
		def:     def,
		scripts: make(map[string][]transport.Outcome),
	}
}

// Script queues outcomes for id.
func (s *ScriptedTransport) Script(id string, outcomes ...transport.Outcome) *ScriptedTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[id] = append(s.scripts[id], outcomes...)
	return s
}

// Block makes every Send announce itself on the returned channel and then
// wait until release is called. Used to hold a cycle open.
func (s *ScriptedTransport) Block() (entered <-chan string, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan string, 64)
	gate := s.gate
	var once sync.Once
	return s.entered, func() { once.Do(func() { close(gate) }) }
}

// Send implements transport.Transport.
func (s *ScriptedTransport) Send(ctx context.Context, ev event.TrackedEvent) transport.Result {
	s.mu.Lock()
	s.sent = append(s.sent, ev.ID)
	outcome := s.def
	if queue := s.scripts[ev.ID]; len(queue) > 0 {
		outcome = queue[0]
		s.scripts[ev.ID] = queue[1:]
	}
	gate, entered := s.gate, s.entered
	s.mu.Unlock()

	if gate != nil {
		entered <- ev.ID
		<-gate
	}
	return ResultFor(outcome)
}

// Sent returns the ids passed to Send, in call order.
func (s *ScriptedTransport) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.sent...)
}

// ResultFor builds a plausible transport.Result for an outcome.
func ResultFor(o transport.Outcome) transport.Result {
	switch o {
	case transport.Delivered:
		return transport.Result{Outcome: o, StatusCode: 200}
	case transport.RetryableFailure:
		return transport.Result{Outcome: o, StatusCode: 503, Body: "unavailable", Err: transport.WrapRetryable(nil)}
	default:
		return transport.Result{Outcome: o, StatusCode: 400, Body: "bad request", Err: transport.WrapPermanent(nil)}
	}
}
