package remote

import (
	"errors"
	"fmt"
)

// Kind classifies failures crossing the transport boundary. Every error a
// Sync implementation returns carries a Kind so callers can decide between
// rollback, retry and user-facing messages without inspecting transport
// internals.
type Kind int

const (
	// KindTransient covers network blips, timeouts and 5xx responses.
	// Callers keep optimistic state and may retry once.
	KindTransient Kind = iota
	// KindValidation covers client-side precondition failures and
	// explicit 4xx rejections. Terminal for the attempt.
	KindValidation
	// KindPermissionDenied covers refused device permissions (GPS).
	KindPermissionDenied
	// KindAuth covers unidentified or rejected actors (401/403).
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermissionDenied:
		return "permission_denied"
	case KindAuth:
		return "auth"
	default:
		return "transient"
	}
}

// Error is the typed error all Sync implementations return.
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

func ValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

func AuthError(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

func TransientError(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

// KindOf extracts the Kind from err. Unclassified errors count as
// transient: the reconciler treats anything unknown as a backend hiccup
// rather than rolling back the driver's optimistic state.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsStructural reports whether err is terminal for the attempt (permission,
// auth or explicit rejection) as opposed to a retryable transport hiccup.
func IsStructural(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindPermissionDenied, KindAuth:
		return true
	}
	return false
}
