package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorises failures of model operations
type ErrorKind string

const (
	// KindInvalidInput indicates malformed or empty caller-supplied data
	KindInvalidInput ErrorKind = "INVALID_INPUT"

	// KindNotFound indicates a referenced id is absent
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindInvalidState indicates the operation would violate a type or status invariant
	KindInvalidState ErrorKind = "INVALID_STATE"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrInvalidState = &Error{Kind: KindInvalidState}
)

// Error is returned by every model operation that fails
type Error struct {
	Kind    ErrorKind
	Op      string
	ID      string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s]", e.Kind)
	if e.Op != "" {
		msg += " " + e.Op + ":"
	}
	if e.Message != "" {
		msg += " " + e.Message
	}
	if e.ID != "" {
		msg += fmt.Sprintf(" (id=%s)", e.ID)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is matches another *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewInvalidInput creates an InvalidInput error
func NewInvalidInput(op, message string) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Message: message}
}

// NewNotFound creates a NotFound error for the given id
func NewNotFound(op, id, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, ID: id, Message: message}
}

// NewInvalidState creates an InvalidState error for the given id
func NewInvalidState(op, id, message string) *Error {
	return &Error{Kind: KindInvalidState, Op: op, ID: id, Message: message}
}

// WithCause attaches an underlying error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
