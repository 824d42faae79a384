package lifecycle

import (
	"errors"
	"fmt"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
)

// ErrNotFound is returned when the request ID is unknown
var ErrNotFound = errors.New("approval request not found")

// ErrValidation wraps malformed-input rejections, raised before any mutation
var ErrValidation = errors.New("validation failed")

// ConflictError reports a lost decide race: the request reached a terminal
// status through a different path. Current carries the now-current state.
type ConflictError struct {
	Current *entity.ApprovalRequest
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("request %s already %s", e.Current.ID, e.Current.Status)
}

// IsConflict reports whether err is a decide conflict
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}
