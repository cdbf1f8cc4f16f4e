// Package common holds the error taxonomy shared by every state component.
// All conditions here are consequences of the input transaction itself:
// retrying the same input reproduces the same outcome, so nothing in the
// state layer ever retries.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists reports a duplicate creation id. A creation tx hash
	// colliding with a stored record is a logic or replay bug, never a
	// retry case.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrNotFound reports a missing prior record referenced by an update or
	// close; the transition layer surfaces it as a rejected transaction.
	ErrNotFound = errors.New("record not found")

	// ErrTokenNotFound reports a reference to a fungible token id that the
	// external token registry does not know.
	ErrTokenNotFound = errors.New("token not found")
)

// FieldError reports a value outside its domain bounds, naming the offending
// field so the transition layer can surface a precise rejection reason.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

// Fieldf builds a FieldError with a formatted reason.
func Fieldf(field, format string, args ...interface{}) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidField reports whether err carries a FieldError.
func IsInvalidField(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe)
}
