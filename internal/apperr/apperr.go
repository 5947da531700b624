// Package apperr defines the error taxonomy shared by the HTTP layer and the
// queue workers. The kind of an error decides whether a caller sees a 4xx/5xx
// and whether a task is retried or parked.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind int

const (
	// KindInternal is the zero value for errors outside the taxonomy.
	KindInternal Kind = iota

	// KindNotFound marks a missing ticket/channel/credential/contact.
	KindNotFound

	// KindConflict marks an invariant violation (duplicate active ticket,
	// double close). Callers must re-read state before retrying.
	KindConflict

	// KindValidation marks a malformed request.
	KindValidation

	// KindProvider marks an outbound transport failure. Nothing was
	// persisted, so the whole operation is safe to retry.
	KindProvider

	// KindTransient marks a storage/broker hiccup the queue wrapper may
	// retry within its attempt budget.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindProvider:
		return "provider"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound formats a new not-found error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflict formats a new conflict error.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Validation formats a new validation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Provider wraps an outbound transport failure.
func Provider(err error, format string, args ...any) error {
	return &Error{Kind: KindProvider, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Transient wraps a retryable storage or broker failure.
func Transient(err error, format string, args ...any) error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal when untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsTransient reports whether err may be retried by the queue wrapper.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }
