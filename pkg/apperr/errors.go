// Package apperr defines the closed error-kind taxonomy from the
// pipeline's error handling design and the propagation policy helpers
// built on top of it.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of error kinds the pipeline reasons about
// when deciding whether to retry locally, surface to the router, or
// treat as fatal to the Task.
type Kind string

const (
	KindInput     Kind = "input"
	KindProvider  Kind = "provider"
	KindRuntime   Kind = "runtime"
	KindQuality   Kind = "quality"
	KindSafety    Kind = "safety"
	KindBudget    Kind = "budget"
	KindLifecycle Kind = "lifecycle"
)

// Error wraps an underlying cause with a Kind and a user-safe message.
// UserMessage must never leak stack traces or raw provider text (spec
// §7 "User-visible behaviour").
type Error struct {
	Kind        Kind
	UserMessage string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.UserMessage, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.UserMessage)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with a user-safe message.
func New(kind Kind, userMessage string, cause error) *Error {
	return &Error{Kind: kind, UserMessage: userMessage, Cause: cause}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error; the ok return is false for unrecognised errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinel errors for conditions every caller needs to branch on by
// identity rather than by Kind.
var (
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrBudgetExceeded      = errors.New("budget exceeded")
	ErrHippocraticViolated = errors.New("hippocratic invariant violated: new failures introduced")
	ErrMaxRetriesExceeded  = errors.New("max retry attempts exceeded")
	ErrShuttingDown        = errors.New("lifecycle manager is shutting down")
	ErrCancelled           = errors.New("operation cancelled")
	ErrConflict            = errors.New("concurrent update conflict")
)

// Recoverable reports whether a Kind is one the propagation policy
// recovers locally (token-bucket wait + bounded retry with jitter, or
// primary/secondary secret fallback) rather than surfacing to the
// router.
func (k Kind) Recoverable() bool {
	return k == KindProvider
}

// userVisible maps common low-level failure substrings to the fixed,
// simplified phrases the pipeline is allowed to surface to end users
// (spec §7).
var userVisible = []struct {
	substr  string
	message string
}{
	{"timeout", "timeout issue"},
	{"selector not found", "element not found"},
	{"network", "network connection issue"},
	{"assertion", "test assertion failed"},
}

// Simplify reduces a raw error string to one of the fixed user-visible
// substitutions, or returns the input unchanged if none match. Never
// pass a stack trace or raw provider payload into this function.
func Simplify(raw string) string {
	lower := strings.ToLower(raw)
	for _, m := range userVisible {
		if strings.Contains(lower, m.substr) {
			return m.message
		}
	}
	return raw
}
