package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to react to it
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindConnectivity      Kind = "connectivity"
	KindStorage           Kind = "storage"
	KindNotFound          Kind = "not_found"
	KindRateNotConfigured Kind = "rate_not_configured"
)

// Error is the application error carried across package boundaries.
// Message is safe to show to a user; Err keeps the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrRateNotConfigured is returned when no active water rate exists
var ErrRateNotConfigured = &Error{Kind: KindRateNotConfigured, Message: "water unit rate is not configured"}

// Validation creates a validation error
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict wraps a uniqueness violation
func Conflict(message string, err error) error {
	return &Error{Kind: KindConflict, Message: message, Err: err}
}

// Connectivity wraps a failure to reach the database
func Connectivity(err error) error {
	return &Error{Kind: KindConnectivity, Message: "database is unreachable", Err: err}
}

// Storage wraps a failure of the local durable store
func Storage(message string, err error) error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

// NotFound creates a not-found error for the named entity
func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the user-facing message, falling back to err.Error()
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
