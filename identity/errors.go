package identity

import (
	"errors"
	"fmt"
)

// ResolutionError reports a failed handle lookup. It is returned to the
// caller that asked and never cached.
type ResolutionError struct {
	Handle string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("identity: resolve %q: %v", e.Handle, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func IsResolution(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// ProbeFailure is a version marker that could not be read. It only ever
// downgrades a classification; callers of ClassifyPeer never see it.
type ProbeFailure struct {
	Address string
	Err     error
}

func (e *ProbeFailure) Error() string {
	return fmt.Sprintf("identity: probe %s: %v", e.Address, e.Err)
}

func (e *ProbeFailure) Unwrap() error { return e.Err }
