// Package ssrf validates externally supplied webhook URLs against
// Server-Side Request Forgery attacks: private/internal destinations,
// cloud-metadata endpoints, and DNS answers pointing back inside.
package ssrf

// BlockedError is returned when a URL is rejected by SSRF protection rules.
type BlockedError struct {
	Reason string
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	return e.Reason
}

// NewBlockedError creates a BlockedError with the given reason.
func NewBlockedError(reason string) *BlockedError {
	return &BlockedError{Reason: reason}
}
