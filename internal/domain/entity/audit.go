package entity

import "time"

// AuditEntry records one lifecycle action against an approval request.
// Entries are append-only and ordered by creation time.
type AuditEntry struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit action names
const (
	AuditActionCreated     = "created"
	AuditActionDecided     = "decided"
	AuditActionExpired     = "expired"
	AuditActionTokenIssued = "token_issued"
)
