// Package transport delivers one TrackedEvent per request and classifies the
// response into an Outcome.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/tracing"
)

// Outcome classifies a delivery attempt.
type Outcome int

const (
	Delivered Outcome = iota
	RetryableFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case RetryableFailure:
		return "retryable"
	case PermanentFailure:
		return "permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes one attempt. Err is nil only for Delivered and wraps
// ErrRetryable or ErrPermanent otherwise.
type Result struct {
	Outcome    Outcome
	StatusCode int    // 0 when no response was received
	Body       string // response body, truncated
	Err        error
	Latency    time.Duration
}

// Reason is the failure label for r.
func (r Result) Reason() string {
	return Reason(r.Err, r.StatusCode)
}

// Transport sends a single event.
type Transport interface {
	Send(ctx context.Context, ev event.TrackedEvent) Result
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, ev event.TrackedEvent) Result

// Send implements Transport.
func (f Func) Send(ctx context.Context, ev event.TrackedEvent) Result { return f(ctx, ev) }

// Config configures the HTTP transport.
type Config struct {
	BaseURL       string
	Authorization string        // sent verbatim in the Authorization header
	Timeout       time.Duration // per request
	MaxBodyBytes  int64         // response bytes read; default 4096
	BodyLogLimit  int           // runes kept in Result.Body; default 256
}

// HTTP is the production Transport.
type HTTP struct {
	cfg    Config
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

// NewHTTP validates cfg and builds a transport. A nil client uses a
// default http.Client; a nil logger uses slog.Default().
func NewHTTP(cfg Config, client *http.Client, logger *slog.Logger) (*HTTP, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4096
	}
	if cfg.BodyLogLimit <= 0 {
		cfg.BodyLogLimit = 256
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		cfg:    cfg,
		base:   base,
		client: client,
		logger: logger.With("component", "transport"),
	}, nil
}

// Send implements Transport.
func (t *HTTP) Send(ctx context.Context, ev event.TrackedEvent) Result {
	ctx, span := tracing.StartSpan(ctx, "trackq.send",
		attribute.String("event_id", ev.ID),
		attribute.String("route", string(ev.Route)),
		attribute.String("project_id", ev.ProjectID),
		attribute.Int("attempts", ev.Attempts),
	)
	defer span.End()

	req, err := t.newRequest(ctx, ev)
	if err != nil {
		res := Result{Outcome: PermanentFailure, Err: WrapPermanent(err)}
		tracing.SetSpanError(ctx, res.Err)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := t.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		res := Result{Outcome: RetryableFailure, Err: WrapRetryable(err), Latency: latency}
		span.SetAttributes(attribute.String("failure_reason", res.Reason()))
		tracing.SetSpanError(ctx, res.Err)
		return res
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxBodyBytes))
	body := truncate(string(raw), t.cfg.BodyLogLimit)
	if readErr != nil {
		// The status line arrived, so classification still follows it.
		t.logger.Debug("response body read failed",
			"event_id", ev.ID,
			"status", resp.StatusCode,
			"error", readErr,
		)
		body += fmt.Sprintf(" [body read failed: %v]", readErr)
	}
	res := Result{
		Outcome:    Classify(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Body:       body,
		Latency:    latency,
	}
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	switch res.Outcome {
	case RetryableFailure:
		res.Err = WrapRetryable(fmt.Errorf("status %d", resp.StatusCode))
	case PermanentFailure:
		res.Err = WrapPermanent(fmt.Errorf("status %d", resp.StatusCode))
	}
	if res.Err != nil {
		span.SetAttributes(attribute.String("failure_reason", res.Reason()))
		tracing.SetSpanError(ctx, res.Err)
	}
	t.logger.Debug("delivery attempt",
		"event_id", ev.ID,
		"route", ev.Route,
		"status", resp.StatusCode,
		"outcome", res.Outcome.String(),
		"latency_ms", latency.Milliseconds(),
	)
	return res
}

// newRequest builds the POST for ev. Any error here is a payload problem.
func (t *HTTP) newRequest(ctx context.Context, ev event.TrackedEvent) (*http.Request, error) {
	path, err := ev.Route.Path(ev.ProjectID)
	if err != nil {
		return nil, err
	}
	body, err := Body(ev)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base.String()+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "trackq/"+event.ClientVersion)
	if t.cfg.Authorization != "" {
		req.Header.Set("Authorization", t.cfg.Authorization)
	}
	if traceID := tracing.TraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}
	tracing.InjectHTTP(ctx, req.Header)
	return req, nil
}

// Body returns the wire body for ev.
func Body(ev event.TrackedEvent) ([]byte, error) {
	obj, err := ev.Route.Encode(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", ev.Route, err)
	}
	data, err := event.MarshalWire(obj)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", ev.Route, err)
	}
	return data, nil
}
