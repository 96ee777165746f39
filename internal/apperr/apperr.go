package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown principal or phone number.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized covers bad PINs, rate limiting, invalid tokens and ineligible principals.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalid indicates malformed input such as a bad PIN format or a missing role.
	ErrInvalid = errors.New("invalid")
	// ErrConflict indicates a uniqueness violation or a lost optimistic update.
	ErrConflict = errors.New("conflict")
)

// Error carries one of the sentinel kinds plus an optional field name for
// field-level reporting.
type Error struct {
	Kind    error
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Unwrap lets errors.Is match against the sentinel kind.
func (e *Error) Unwrap() error {
	return e.Kind
}

// NotFound builds a NotFound error.
func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

// Unauthorized builds an Unauthorized error.
func Unauthorized(msg string) error {
	return &Error{Kind: ErrUnauthorized, Message: msg}
}

// Invalid builds a field-level Invalid error.
func Invalid(field, msg string) error {
	return &Error{Kind: ErrInvalid, Field: field, Message: msg}
}

// Conflict builds a Conflict error.
func Conflict(msg string) error {
	return &Error{Kind: ErrConflict, Message: msg}
}

// FieldOf returns the offending field of err, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
