// Package apperr holds the error kinds shared by the signup and poll engines.
// Specific errors wrap one of the kinds so callers can branch with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidState            = errors.New("invalid state")
	ErrConflict                = errors.New("conflicting concurrent update, retry")
	ErrAlreadyVoted            = errors.New("already voted in this poll")
	ErrAlreadyVotedThisOption  = errors.New("already voted for this option")
	ErrCannotRemoveVotedOption = errors.New("cannot remove an option that has votes")
	ErrValidation              = errors.New("validation failed")
	ErrForbidden               = errors.New("not allowed")
)

// FieldError is a validation failure for a single input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *FieldError) Unwrap() error {
	return ErrValidation
}

func Invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Kind reports which of the shared kinds err belongs to, or nil.
func Kind(err error) error {
	for _, kind := range []error{
		ErrAlreadyVotedThisOption,
		ErrAlreadyVoted,
		ErrCannotRemoveVotedOption,
		ErrNotFound,
		ErrInvalidState,
		ErrConflict,
		ErrValidation,
		ErrForbidden,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
