// Package errs classifies every failure that crosses a component boundary
// into a small set of stable kinds.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a stable token callers branch on instead of matching strings.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindVendorFailure  Kind = "vendor_failure"
	KindPartialAnalyst Kind = "partial_analyst_failure"
	KindDeadline       Kind = "deadline"
	KindInternal       Kind = "internal"
	KindNotFound       Kind = "not_found"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to cause. A nil cause yields nil.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(KindInternal, format, args...)
}

// KindOf reports the kind of err. Context errors map to KindDeadline and
// anything unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindDeadline
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Result is the explicit ok-or-error value returned at external boundaries.
type Result[T any] struct {
	Value T
	Err   *Error
}

func OK[T any](v T) Result[T] { return Result[T]{Value: v} }

func Fail[T any](err *Error) Result[T] { return Result[T]{Err: err} }

func (r Result[T]) Ok() bool { return r.Err == nil }

// Unpack converts the result back into the (value, error) form.
func (r Result[T]) Unpack() (T, error) {
	if r.Err != nil {
		return r.Value, r.Err
	}
	return r.Value, nil
}
