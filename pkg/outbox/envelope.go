package outbox

import (
	"encoding/json"
	"time"
)

// SourceRef names the external delivery that produced the event.
type SourceRef struct {
	Provider string `json:"provider"`
	EventID  string `json:"eventId"`
	Type     string `json:"type,omitempty"`
	Account  string `json:"account,omitempty"`
	Livemode bool   `json:"livemode"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// published verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     *SourceRef      `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}
