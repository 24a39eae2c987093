package ir

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes expression errors.
type ErrorKind string

const (
	// ErrInvalidArgument covers malformed expressions, unknown properties,
	// paths that end at an embeddable, non-list composite keys and
	// aggregations over non-aggregatable operands.
	ErrInvalidArgument ErrorKind = "INVALID_ARGUMENT"

	// ErrInvalidState covers API misuse: a function that does not support
	// the requested evaluation mode, or two aggregations applied at once.
	ErrInvalidState ErrorKind = "INVALID_STATE"
)

// Error is an error raised while resolving or evaluating an expression.
// It aborts only the expression being evaluated.
type Error struct {
	Kind    ErrorKind
	Message string

	// Expression is the offending expression, when known.
	Expression string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Expression != "" {
		return fmt.Sprintf("%s: %s (expression=%s)", e.Kind, e.Message, e.Expression)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// WithExpression returns a copy of e that records the offending expression.
func (e *Error) WithExpression(expr string) *Error {
	cp := *e
	cp.Expression = expr
	return &cp
}

// InvalidArgument creates an ErrInvalidArgument error.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// InvalidState creates an ErrInvalidState error.
func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidState, Message: fmt.Sprintf(format, args...)}
}

// IsInvalidArgument returns true if err is an invalid-argument error.
// Uses errors.As to handle wrapped errors.
func IsInvalidArgument(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == ErrInvalidArgument
	}
	return false
}

// IsInvalidState returns true if err is an invalid-state error.
// Uses errors.As to handle wrapped errors.
func IsInvalidState(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == ErrInvalidState
	}
	return false
}
