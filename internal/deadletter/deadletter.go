// Package deadletter records events the flush manager gave up on.
//
// Dropped events are gone from the queue; a Sink is the last place they are
// observable. Sinks must not block the flush cycle for long.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/roach88/trackq/internal/event"
)

// Envelope identification.
const (
	Type    = "trackq.dropped"
	Version = "v1"
)

// Drop reasons.
const (
	ReasonMaxTries  = "max_tries"
	ReasonPermanent = "permanent"
)

// Letter is the envelope for one dropped event.
type Letter struct {
	Type         string             `json:"type"`
	Version      string             `json:"version"`
	At           string             `json:"at"`     // RFC3339Nano
	Reason       string             `json:"reason"` // max_tries or permanent
	Detail       string             `json:"detail,omitempty"`
	Attempts     int                `json:"attempts"`
	HTTPStatus   int                `json:"http_status,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	ResponseBody string             `json:"response_body,omitempty"`
	Event        event.TrackedEvent `json:"event"`
	TraceHeaders map[string]string  `json:"trace_headers,omitempty"`
}

// New builds a letter stamped at now.
func New(ev event.TrackedEvent, reason, detail string, status int, lastErr error, body string, now time.Time) Letter {
	l := Letter{
		Type:         Type,
		Version:      Version,
		At:           now.UTC().Format(time.RFC3339Nano),
		Reason:       reason,
		Detail:       detail,
		Attempts:     ev.Attempts,
		HTTPStatus:   status,
		ResponseBody: body,
		Event:        ev,
	}
	if lastErr != nil {
		l.LastError = lastErr.Error()
	}
	return l
}

// Sink receives dropped events.
type Sink interface {
	Drop(ctx context.Context, l Letter) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, l Letter) error

// Drop calls f.
func (f SinkFunc) Drop(ctx context.Context, l Letter) error { return f(ctx, l) }

// LogSink writes each letter as a structured warning.
type LogSink struct {
	Logger *slog.Logger
}

// Drop implements Sink.
func (s LogSink) Drop(_ context.Context, l Letter) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("event dropped",
		"event_id", l.Event.ID,
		"route", l.Event.Route,
		"reason", l.Reason,
		"detail", l.Detail,
		"attempts", l.Attempts,
		"http_status", l.HTTPStatus,
		"last_error", l.LastError,
		"response_body", l.ResponseBody,
	)
	return nil
}

// Publisher is the subset of *nsq.Producer used by NSQSink.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NSQSink publishes letters as JSON to an NSQ topic.
type NSQSink struct {
	publisher Publisher
	topic     string
	stop      func()
}

// NewNSQSink connects a producer to nsqd at addr. Connection is lazy: the
// first Publish dials.
func NewNSQSink(addr, topic string) (*NSQSink, error) {
	if topic == "" {
		return nil, errors.New("dead letter topic is required")
	}
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer for %s: %w", addr, err)
	}
	producer.SetLoggerLevel(nsq.LogLevelWarning)
	return &NSQSink{publisher: producer, topic: topic, stop: producer.Stop}, nil
}

// NewNSQSinkWithPublisher wraps an existing publisher.
func NewNSQSinkWithPublisher(p Publisher, topic string) *NSQSink {
	return &NSQSink{publisher: p, topic: topic, stop: func() {}}
}

// Drop implements Sink.
func (s *NSQSink) Drop(_ context.Context, l Letter) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", l.Event.ID, err)
	}
	if err := s.publisher.Publish(s.topic, body); err != nil {
		return fmt.Errorf("publish dead letter %s to %s: %w", l.Event.ID, s.topic, err)
	}
	return nil
}

// Stop shuts the producer down.
func (s *NSQSink) Stop() {
	s.stop()
}

// Multi fans a letter out to every sink and joins their errors.
type Multi []Sink

// Drop implements Sink.
func (m Multi) Drop(ctx context.Context, l Letter) error {
	var errs []error
	for _, s := range m {
		if err := s.Drop(ctx, l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps letters in memory. Used by tests.
type Memory struct {
	mu      sync.Mutex
	letters []Letter
}

// Drop implements Sink.
func (m *Memory) Drop(_ context.Context, l Letter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters = append(m.letters, l)
	return nil
}

// Letters returns a copy of the recorded letters.
func (m *Memory) Letters() []Letter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Letter{}, m.letters...)
}
