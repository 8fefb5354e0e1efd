package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// record is the persisted layout. Unknown fields are ignored on decode so an
// older binary can read records written by a newer one.
type record struct {
	SchemaVersion int `json:"schema_version"`
	TrackedEvent
}

// MarshalRecord encodes ev for storage.
func MarshalRecord(ev TrackedEvent) ([]byte, error) {
	if ev.ID == "" {
		return nil, fmt.Errorf("marshal record: empty id")
	}
	data, err := json.Marshal(record{SchemaVersion: SchemaVersion, TrackedEvent: ev})
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", ev.ID, err)
	}
	return data, nil
}

// UnmarshalRecord decodes a stored record. Numbers inside properties are kept
// as json.Number so integers round-trip without float conversion.
func UnmarshalRecord(data []byte) (TrackedEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec record
	if err := dec.Decode(&rec); err != nil {
		return TrackedEvent{}, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.SchemaVersion > SchemaVersion {
		return TrackedEvent{}, fmt.Errorf("unmarshal record: schema_version %d is newer than supported %d",
			rec.SchemaVersion, SchemaVersion)
	}
	if rec.ID == "" {
		return TrackedEvent{}, fmt.Errorf("unmarshal record: missing id")
	}
	if !rec.Route.Valid() {
		return TrackedEvent{}, fmt.Errorf("unmarshal record %s: unknown route %q", rec.ID, rec.Route)
	}
	return rec.TrackedEvent, nil
}
