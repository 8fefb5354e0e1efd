package event

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Route is the enumerated destination kind of an event. It selects both the
// endpoint path and the body schema used on the wire.
type Route string

const (
	RouteCustomerEvent          Route = "customer_event"
	RouteCustomerUpdate         Route = "customer_update"
	RouteCustomerRecommendation Route = "customer_recommendation"
	RouteCampaignClick          Route = "campaign_click"
)

// Encoder builds the route-specific request body for an event.
type Encoder func(ev TrackedEvent) (map[string]any, error)

type routeSpec struct {
	path   string // {projectId} is substituted
	encode Encoder
}

// routes is the fixed route table. Lookups go through this map, never a switch.
var routes = map[Route]routeSpec{
	RouteCustomerEvent: {
		path:   "/track/v2/projects/{projectId}/customers/events",
		encode: encodeCustomerEvent,
	},
	RouteCustomerUpdate: {
		path:   "/track/v2/projects/{projectId}/customers",
		encode: encodeCustomerUpdate,
	},
	RouteCustomerRecommendation: {
		path:   "/data/v2/projects/{projectId}/customers/attributes",
		encode: encodeRecommendation,
	},
	RouteCampaignClick: {
		path:   "/track/v2/projects/{projectId}/campaigns/clicks",
		encode: encodeCampaignClick,
	},
}

// Routes returns every known route in lexical order.
func Routes() []Route {
	out := make([]Route, 0, len(routes))
	for r := range routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseRoute accepts the snake_case name or its kebab-case spelling.
func ParseRoute(s string) (Route, error) {
	r := Route(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !r.Valid() {
		return "", fmt.Errorf("unknown route %q", s)
	}
	return r, nil
}

// Valid reports whether r is in the route table.
func (r Route) Valid() bool {
	_, ok := routes[r]
	return ok
}

// Path returns the endpoint path for the project, or an error for unknown routes.
func (r Route) Path(projectID string) (string, error) {
	spec, ok := routes[r]
	if !ok {
		return "", fmt.Errorf("unknown route %q", r)
	}
	return strings.ReplaceAll(spec.path, "{projectId}", url.PathEscape(projectID)), nil
}

// Encode returns the route-specific body for ev.
func (r Route) Encode(ev TrackedEvent) (map[string]any, error) {
	spec, ok := routes[r]
	if !ok {
		return nil, fmt.Errorf("unknown route %q", r)
	}
	return spec.encode(ev)
}

// Payload is the producer-supplied event body.
type Payload struct {
	CustomerIDs map[string]string `json:"customer_ids"`
	EventType   string            `json:"event_type,omitempty"`
	Properties  map[string]any    `json:"properties,omitempty"`
	Timestamp   float64           `json:"timestamp,omitempty"` // unix seconds
	URL         string            `json:"url,omitempty"`       // campaign clicks only
}

// TrackedEvent is one queued event.
//
// InsertedAt is stamped by the producer in the same critical section as the
// queue insert, so it increases in queue order. Snapshots are read in the
// store's insertion sequence, which therefore agrees with InsertedAt.
type TrackedEvent struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Route      Route   `json:"route"`
	Payload    Payload `json:"payload"`
	InsertedAt int64   `json:"inserted_at"` // unix nanos, see Clock
	Attempts   int     `json:"attempts"`
}

func customerIDs(p Payload) (map[string]any, error) {
	if len(p.CustomerIDs) == 0 {
		return nil, fmt.Errorf("customer_ids must not be empty")
	}
	ids := make(map[string]any, len(p.CustomerIDs))
	for k, v := range p.CustomerIDs {
		ids[k] = v
	}
	return ids, nil
}

func properties(p Payload) map[string]any {
	if p.Properties == nil {
		return map[string]any{}
	}
	return p.Properties
}

func encodeCustomerEvent(ev TrackedEvent) (map[string]any, error) {
	ids, err := customerIDs(ev.Payload)
	if err != nil {
		return nil, err
	}
	if ev.Payload.EventType == "" {
		return nil, fmt.Errorf("event_type is required for %s", RouteCustomerEvent)
	}
	return map[string]any{
		"customer_ids": ids,
		"event_type":   ev.Payload.EventType,
		"timestamp":    ev.Payload.Timestamp,
		"properties":   properties(ev.Payload),
	}, nil
}

func encodeCustomerUpdate(ev TrackedEvent) (map[string]any, error) {
	ids, err := customerIDs(ev.Payload)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"customer_ids": ids,
		"properties":   properties(ev.Payload),
	}, nil
}

func encodeRecommendation(ev TrackedEvent) (map[string]any, error) {
	ids, err := customerIDs(ev.Payload)
	if err != nil {
		return nil, err
	}
	attr := map[string]any{"type": "recommendation"}
	for k, v := range ev.Payload.Properties {
		if k == "type" {
			continue
		}
		attr[k] = v
	}
	return map[string]any{
		"customer_ids": ids,
		"attributes":   []any{attr},
	}, nil
}

func encodeCampaignClick(ev TrackedEvent) (map[string]any, error) {
	ids, err := customerIDs(ev.Payload)
	if err != nil {
		return nil, err
	}
	if ev.Payload.URL == "" {
		return nil, fmt.Errorf("url is required for %s", RouteCampaignClick)
	}
	return map[string]any{
		"customer_ids": ids,
		"url":          ev.Payload.URL,
		"timestamp":    ev.Payload.Timestamp,
		"properties":   properties(ev.Payload),
	}, nil
}
