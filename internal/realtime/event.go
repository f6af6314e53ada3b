// AngelaMos | 2026
// event.go

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventInsert       EventType = "INSERT"
	EventUpdate       EventType = "UPDATE"
	EventSignedOut    EventType = "SIGNED_OUT"
	EventTokenRevoked EventType = "TOKEN_REVOKED"
)

// Event is one change notification. Record carries the full row for table
// events and the revocation details for auth events.
type Event struct {
	Topic  string          `json:"topic"`
	Type   EventType       `json:"type"`
	Record json.RawMessage `json:"record,omitempty"`
	At     time.Time       `json:"at"`
}

func NewEvent(topic Topic, eventType EventType, record any) (Event, error) {
	evt := Event{
		Topic: topic.String(),
		Type:  eventType,
		At:    time.Now().UTC(),
	}

	if record != nil {
		raw, err := json.Marshal(record)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s record: %w", topic.Table, err)
		}
		evt.Record = raw
	}

	return evt, nil
}

// Decode unmarshals the record into dst.
func (e Event) Decode(dst any) error {
	if len(e.Record) == 0 {
		return fmt.Errorf("decode %s event: empty record", e.Type)
	}
	if err := json.Unmarshal(e.Record, dst); err != nil {
		return fmt.Errorf("decode %s event: %w", e.Type, err)
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
