package entity

import "time"

// NotificationAttempt records the outcome of one notification delivery to
// one (channel, target) route, including how many sends were attempted.
type NotificationAttempt struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	RequestID string    `json:"request_id"`
	EventType string    `json:"event_type"`
	Channel   string    `json:"channel"`
	Target    string    `json:"target"`
	Success   bool      `json:"success"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
