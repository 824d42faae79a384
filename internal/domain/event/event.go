package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a notification event produced by a lifecycle transition.
// Each transition produces exactly one event, consumed once by the dispatcher.
type Event struct {
	ID        string                 `json:"event_id"`
	Type      Type                   `json:"event"`
	RequestID string                 `json:"request_id"`
	Payload   map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
}

// New creates an event with a generated ID and current timestamp
func New(eventType Type, requestID, source string, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		RequestID: requestID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// WithPayload returns a copy of the event with an added payload entry
func (e *Event) WithPayload(key string, value interface{}) *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	clone := *e
	clone.Payload = payload
	return &clone
}

// PayloadString retrieves a string value from the payload
func (e *Event) PayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
