package bootstrap

import (
	"errors"
	"fmt"
)

// InitializationError reports a failed resource construction. Every caller
// waiting on that construction receives the same error; the resource stays
// unset and a later call may retry.
type InitializationError struct {
	Resource string
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("bootstrap: initialize %s: %v", e.Resource, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// IsInitialization reports whether err is (or wraps) an InitializationError.
func IsInitialization(err error) bool {
	var ie *InitializationError
	return errors.As(err, &ie)
}
