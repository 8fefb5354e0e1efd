package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/trackq/internal/config"
	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/flush"
)

// TrackOptions holds flags for the track command.
type TrackOptions struct {
	*RootOptions
	Route     string
	EventType string
	Customers []string // k=v
	Props     []string // k=v, values parsed as JSON when possible
	Payload   string   // raw JSON payload, flags override its fields
	URL       string
	Flush     bool
}

// TrackResult is the output of the track command.
type TrackResult struct {
	ID         string        `json:"id"`
	Route      string        `json:"route"`
	QueueDepth int           `json:"queue_depth"`
	Flush      *flush.Result `json:"flush,omitempty"`
}

// NewTrackCommand creates the track command.
func NewTrackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TrackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Queue one tracking event",
		Long: `Queue one event in the local database.

The event is only sent when a flush runs; pass --flush to run one
synchronous flush cycle right after queueing.

Examples:
  trackq track --type purchase --customer registered=alice --prop price=9.99
  trackq track --route customer_update --customer registered=alice --prop plan=pro
  trackq track --route campaign_click --customer cookie=abc --url https://example.com/promo
  trackq track --payload '{"customer_ids":{"registered":"bob"},"event_type":"view"}' --flush`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Route, "route", string(event.RouteCustomerEvent), "route: "+routeNames())
	cmd.Flags().StringVar(&opts.EventType, "type", "", "event type (customer_event)")
	cmd.Flags().StringArrayVar(&opts.Customers, "customer", nil, "customer id as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Props, "prop", nil, "property as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload as JSON")
	cmd.Flags().StringVar(&opts.URL, "url", "", "clicked url (campaign_click)")
	cmd.Flags().BoolVar(&opts.Flush, "flush", false, "run one flush cycle after queueing")

	return cmd
}

func runTrack(opts *TrackOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	route, err := event.ParseRoute(opts.Route)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --route", err)
	}
	payload, err := buildPayload(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid payload", err)
	}
	// Encode up front so a payload the API would reject is never queued.
	if _, err := route.Encode(event.TrackedEvent{Route: route, Payload: payload}); err != nil {
		return WrapExitError(ExitCommandError, "invalid payload", err)
	}

	tr, _, err := openTracker(opts.RootOptions, cmd, func(cfg *config.Config) { manualMode(cfg) })
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx := cmd.Context()
	if !tr.Track(ctx, route, payload) {
		return NewExitError(ExitFailure, "event was not queued (see log)")
	}
	events := tr.Events(ctx)
	result := TrackResult{Route: string(route), QueueDepth: len(events)}
	if len(events) > 0 {
		result.ID = events[len(events)-1].ID
	}
	formatter.Debugf("queued %s on %s", result.ID, route)

	if opts.Flush {
		res, ok := tr.FlushSync(ctx)
		if ok {
			result.Flush = &res
			result.QueueDepth = tr.Count(ctx)
		}
	}

	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "queued %s (%s), queue depth %d\n", result.ID, result.Route, result.QueueDepth)
		if result.Flush != nil {
			writeFlushText(w, *result.Flush)
		}
	})
}

// buildPayload merges --payload with the individual flags.
func buildPayload(opts *TrackOptions) (event.Payload, error) {
	var p event.Payload
	if opts.Payload != "" {
		dec := json.NewDecoder(strings.NewReader(opts.Payload))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return event.Payload{}, fmt.Errorf("--payload: %w", err)
		}
	}

	if opts.EventType != "" {
		p.EventType = opts.EventType
	}
	if opts.URL != "" {
		p.URL = opts.URL
	}
	for _, kv := range opts.Customers {
		k, v, err := splitPair(kv)
		if err != nil {
			return event.Payload{}, fmt.Errorf("--customer: %w", err)
		}
		if p.CustomerIDs == nil {
			p.CustomerIDs = map[string]string{}
		}
		p.CustomerIDs[k] = v
	}
	for _, kv := range opts.Props {
		k, v, err := splitPair(kv)
		if err != nil {
			return event.Payload{}, fmt.Errorf("--prop: %w", err)
		}
		if p.Properties == nil {
			p.Properties = map[string]any{}
		}
		p.Properties[k] = propertyValue(v)
	}
	return p, nil
}

func splitPair(kv string) (string, string, error) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", kv)
	}
	return k, v, nil
}

// propertyValue keeps numbers, booleans, arrays and objects typed; anything
// that is not valid JSON is a string.
func propertyValue(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	if v == nil {
		return s
	}
	return v
}

func routeNames() string {
	names := make([]string, 0, 4)
	for _, r := range event.Routes() {
		names = append(names, string(r))
	}
	return strings.Join(names, "|")
}
