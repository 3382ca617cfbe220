// Package apperr implements handoff's single domain error taxonomy. Every
// fallible operation in the broker returns an error that, when it matters to
// the caller, carries one of the Kind values below rather than a bare
// fmt.Errorf string — so callers can branch on apperr.Kind instead of
// string-matching a message. External library errors are translated at a
// single adapter per library (see the store, slackadapter, and tool
// packages).
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy of domain error categories from spec §7.
type Kind string

const (
	Config          Kind = "config"
	Db              Kind = "db"
	Chat            Kind = "chat"
	Tool            Kind = "tool"
	Diff            Kind = "diff"
	Policy          Kind = "policy"
	Ipc             Kind = "ipc"
	PathViolation   Kind = "path_violation"
	PatchConflict   Kind = "patch_conflict"
	NotFound        Kind = "not_found"
	Unauthorized    Kind = "unauthorized"
	AlreadyConsumed Kind = "already_consumed"
)

// Error is the concrete error type carrying a Kind and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error wrapping cause, or returns nil if cause is nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
