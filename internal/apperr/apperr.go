// Package apperr defines the tagged failures returned by the maintenance and
// inoperability engines. Errors that are not *Error (store faults, for
// instance) are passed through untouched.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindInvalidPhase Kind = "invalid_phase"
	KindIneligible   Kind = "ineligible"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindValidation   Kind = "validation_error"
)

// Error is a failure with a stable kind. Details carries kind specific data,
// e.g. the active record for a conflict.
type Error struct {
	Kind    Kind
	Message string
	Details interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works for every not-found failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrInvalidPhase = &Error{Kind: KindInvalidPhase, Message: "invalid phase"}
	ErrIneligible   = &Error{Kind: KindIneligible, Message: "ineligible"}
	ErrConflict     = &Error{Kind: KindConflict, Message: "conflict"}
	ErrForbidden    = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrValidation   = &Error{Kind: KindValidation, Message: "validation error"}
)

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return newf(KindInvalidState, format, args...)
}

func InvalidPhase(format string, args ...interface{}) *Error {
	return newf(KindInvalidPhase, format, args...)
}

func Ineligible(format string, args ...interface{}) *Error {
	return newf(KindIneligible, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// Conflict builds a conflict failure carrying details for reconciliation.
func Conflict(details interface{}, format string, args ...interface{}) *Error {
	e := newf(KindConflict, format, args...)
	e.Details = details
	return e
}

// Wrap attaches a cause to a tagged failure.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or "" when err is not a tagged failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// DetailsOf returns the details attached to a tagged failure.
func DetailsOf(err error) interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
