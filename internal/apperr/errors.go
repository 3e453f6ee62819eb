// Package apperr defines the error taxonomy shared across the engine.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an absent item, type, or tag. Distinct from I/O
	// failures, which are surfaced as plain wrapped errors.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists marks a uniqueness violation (duplicate daily
	// date, taken session id, duplicate type name).
	ErrAlreadyExists = errors.New("already exists")
	// ErrValidation marks caller data that violates a domain invariant.
	ErrValidation = errors.New("validation failed")
	// ErrBusinessRule marks an operation blocked by current state.
	ErrBusinessRule = errors.New("business rule violation")
)

// Validationf wraps ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// BusinessRulef wraps ErrBusinessRule with a formatted reason.
func BusinessRulef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBusinessRule, fmt.Sprintf(format, args...))
}

// SequenceDriftError reports disagreement between a type's allocator
// counter and the files on disk. It is fatal for the operation and is
// never resolved silently: the operator must rerun rebuild to
// resynchronize the counter.
type SequenceDriftError struct {
	Type    string
	Current int64
	Next    int64
	Path    string
}

func (e *SequenceDriftError) Error() string {
	return fmt.Sprintf(
		"sequence drift for type %q: counter is %d and would assign id %d, but a record already exists at %s; rebuild the index to resynchronize the counter",
		e.Type, e.Current, e.Next, e.Path)
}
