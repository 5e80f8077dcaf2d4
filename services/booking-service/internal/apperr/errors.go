// Package apperr is the error taxonomy shared by the booking service. Every
// error that reaches a caller carries a Kind and a machine-readable Reason.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindExternalSync      Kind = "external_sync"
	KindAuth              Kind = "auth"
	KindStorage           Kind = "storage"
	KindNotFound          Kind = "not_found"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrExternalSync      = &Error{Kind: KindExternalSync}
	ErrAuth              = &Error{Kind: KindAuth}
	ErrStorage           = &Error{Kind: KindStorage}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Reason
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

func Validation(reason, message string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: message}
}

func Conflict(reason, message string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: message}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Reason:  "invalid_transition",
		Message: fmt.Sprintf("cannot move appointment from %s to %s", from, to),
		Details: map[string]string{"from": from, "to": to},
	}
}

func ExternalSync(reason string, err error) *Error {
	return &Error{Kind: KindExternalSync, Reason: reason, Message: "calendar sync failed", Err: err}
}

func Auth(reason, message string) *Error {
	return &Error{Kind: KindAuth, Reason: reason, Message: message}
}

// Storage wraps a persistence failure. op names the operation for logs; the
// wrapped error never reaches response bodies.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Reason: "storage_failure", Message: op, Err: err}
}

func NotFound(reason, message string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain. Unclassified
// errors are treated as storage failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return "internal"
}
