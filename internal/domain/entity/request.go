package entity

import "time"

// Status represents the lifecycle status of an approval request
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

var validStatuses = map[Status]bool{
	StatusPending:  true,
	StatusApproved: true,
	StatusDenied:   true,
	StatusExpired:  true,
}

var terminalStatuses = map[Status]bool{
	StatusApproved: true,
	StatusDenied:   true,
	StatusExpired:  true,
}

// IsValid returns true if the status is one of the defined lifecycle statuses
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// IsTerminal returns true if the status admits no further transitions
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// Urgency represents how urgently a request needs a decision
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

var validUrgencies = map[Urgency]bool{
	UrgencyLow:      true,
	UrgencyNormal:   true,
	UrgencyHigh:     true,
	UrgencyCritical: true,
}

// IsValid returns true if the urgency is one of the defined levels
func (u Urgency) IsValid() bool {
	return validUrgencies[u]
}

// String returns the string representation of the urgency
func (u Urgency) String() string {
	return string(u)
}

// ListFilter narrows request listings. Zero values mean no filter.
type ListFilter struct {
	Status Status
	Action string
	Limit  int
	Offset int
}

// ApprovalRequest is a request by an agent to perform a side-effecting action.
// Status transitions only pending -> {approved, denied, expired}; terminal
// statuses are immutable and exactly one decide transition may succeed.
type ApprovalRequest struct {
	ID             string                 `json:"id"`
	Action         string                 `json:"action"`
	Params         map[string]interface{} `json:"params,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Status         Status                 `json:"status"`
	Urgency        Urgency                `json:"urgency"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	DecidedAt      *time.Time             `json:"decided_at,omitempty"`
	DecidedBy      string                 `json:"decided_by,omitempty"`
	DecisionReason string                 `json:"decision_reason,omitempty"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty"`
}
