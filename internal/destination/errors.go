package destination

import (
	"context"
	"errors"
	"fmt"
)

// WriteError wraps a destination failure with a stable code and a
// transience flag. Transient errors are retried by the engine; permanent
// ones fail the table immediately.
type WriteError struct {
	Code      string
	Transient bool
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// NewWriteError wraps err with a code. Unknown failures default to
// transient so the engine gives them a retry.
func NewWriteError(code string, transient bool, err error) *WriteError {
	return &WriteError{Code: code, Transient: transient, Err: err}
}

// IsTransient reports whether err is worth retrying. Deadline expiry is
// transient; cancellation is not, since the caller is going away.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var we *WriteError
	if errors.As(err, &we) {
		return we.Transient
	}
	return true
}
