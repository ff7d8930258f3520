// Package apperror defines the error taxonomy shared by the pipeline layers.
// Callers classify failures with errors.Is against the sentinel values.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transport adapters
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindInvalidState  Kind = "INVALID_STATE"
	KindConflict      Kind = "CONFLICT"
	KindNotFound      Kind = "NOT_FOUND"
	KindConfiguration Kind = "CONFIGURATION"
)

var (
	// ErrValidation is returned when caller input violates a precondition
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned when a transition is not legal from the current state
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict is returned when a uniqueness or concurrency invariant would be violated
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a referenced entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrConfiguration is returned when workflow data is internally inconsistent
	ErrConfiguration = errors.New("configuration error")
)

var sentinels = map[Kind]error{
	KindValidation:    ErrValidation,
	KindInvalidState:  ErrInvalidState,
	KindConflict:      ErrConflict,
	KindNotFound:      ErrNotFound,
	KindConfiguration: ErrConfiguration,
}

// Error carries a kind, the failing operation and an optional cause
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = sentinels[e.Kind].Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func newError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a validation error
func Validation(op, format string, args ...interface{}) error {
	return newError(KindValidation, op, format, args...)
}

// InvalidState builds an invalid-state error
func InvalidState(op, format string, args ...interface{}) error {
	return newError(KindInvalidState, op, format, args...)
}

// Conflict builds a conflict error
func Conflict(op, format string, args ...interface{}) error {
	return newError(KindConflict, op, format, args...)
}

// NotFound builds a not-found error
func NotFound(op, format string, args ...interface{}) error {
	return newError(KindNotFound, op, format, args...)
}

// Configuration builds a configuration error
func Configuration(op, format string, args ...interface{}) error {
	return newError(KindConfiguration, op, format, args...)
}

// Wrap attaches a kind to an existing error
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or "" when err is not classified
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}
