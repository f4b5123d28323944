package ledger

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError rejects a request before anything is read or written.
type ValidationError struct {
	Column string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Column != "" && e.Value != "":
		return fmt.Sprintf("invalid %s %q: %s", e.Column, e.Value, e.Reason)
	case e.Column != "":
		return fmt.Sprintf("invalid %s: %s", e.Column, e.Reason)
	default:
		return e.Reason
	}
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
