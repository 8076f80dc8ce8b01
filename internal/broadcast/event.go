package broadcast

import (
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	KindPaymentCreated    = "payment.created"
	KindPaymentReconciled = "payment.reconciled"
	KindPaymentUpdated    = "payment.updated"
)

// Event is one live update. Payload is the affected row.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Key        string    `json:"key,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Keyed payloads choose the partition key of the event.
type Keyed interface {
	BroadcastKey() string
}

func newEvent(kind string, payload any, origin string, at time.Time) Event {
	event := Event{
		ID:         ulid.Make().String(),
		Kind:       kind,
		Origin:     origin,
		Payload:    payload,
		OccurredAt: at.UTC(),
	}
	if keyed, ok := payload.(Keyed); ok {
		event.Key = keyed.BroadcastKey()
	}
	return event
}
