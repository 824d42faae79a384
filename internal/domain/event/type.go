package event

// Type identifies the type of notification event
type Type string

const (
	TypeRequestCreated   Type = "request.created"
	TypeRequestDecided   Type = "request.decided"
	TypeRequestExpired   Type = "request.expired"
	TypeRequestEscalated Type = "request.escalated"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestCreated,
		TypeRequestDecided,
		TypeRequestExpired,
		TypeRequestEscalated:
		return true
	default:
		return false
	}
}
