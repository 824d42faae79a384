package entity

import "time"

// TokenAction is the decision a token is authorized to apply
type TokenAction string

const (
	TokenActionApprove TokenAction = "approve"
	TokenActionDeny    TokenAction = "deny"
)

// IsValid returns true if the action is one of the defined token actions
func (a TokenAction) IsValid() bool {
	return a == TokenActionApprove || a == TokenActionDeny
}

// String returns the string representation of the token action
func (a TokenAction) String() string {
	return string(a)
}

// DecisionToken is a single-use, time-boxed secret authorizing one
// approve/deny transition on a specific request without further
// authentication. UsedAt stays nil until the token is redeemed.
type DecisionToken struct {
	ID        string      `json:"id"`
	RequestID string      `json:"request_id"`
	Action    TokenAction `json:"action"`
	Secret    string      `json:"-"`
	ExpiresAt time.Time   `json:"expires_at"`
	UsedAt    *time.Time  `json:"used_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsExpired returns true if the token expired at or before now
func (t *DecisionToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsUsed returns true if the token has already been redeemed
func (t *DecisionToken) IsUsed() bool {
	return t.UsedAt != nil
}
