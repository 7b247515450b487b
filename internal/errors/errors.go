// Package errors defines the closed error taxonomy of the profile fetch path
// and the classifier that maps raw failures into it. Nothing past the timed
// fetch attempt ever sees a raw error: everything becomes a Kind.
package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes a profile fetch failure. The set is closed: every raw
// failure maps to exactly one Kind, and the route guard keys its recovery
// strategy (silent retry, actionable card, redirect) off it.
type Kind string

const (
	// KindNotFound means the profile row definitively does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindAccessDenied means the store rejected the read (401/403, row-level
	// security).
	KindAccessDenied Kind = "ACCESS_DENIED"
	// KindNetwork is a clean server-reported connectivity failure.
	KindNetwork Kind = "NETWORK"
	// KindEnvMissing means the client was built with placeholder credentials
	// and was never able to talk to the backend.
	KindEnvMissing Kind = "ENV_MISSING"
	// KindBlocked means something intercepted the request before it reached
	// the server: our own timeout fired, or the connection was refused in a
	// way typical of VPN/proxy/extension interference.
	KindBlocked Kind = "BLOCKED"
)

// Transient reports whether automatic retry can plausibly change the outcome.
// Definitive kinds (NOT_FOUND, ACCESS_DENIED, ENV_MISSING) require explicit
// user action and are never silently retried.
func (k Kind) Transient() bool {
	return k == KindNetwork || k == KindBlocked
}

// Definitive is the complement of Transient for a non-empty Kind.
func (k Kind) Definitive() bool {
	return k != "" && !k.Transient()
}

// FetchError is a classified profile fetch failure. It wraps the underlying
// cause so errors.Is/As keep working across the classification boundary.
type FetchError struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error { return e.Cause }

// New creates a FetchError with the given kind and message.
func New(kind Kind, message string) *FetchError {
	return &FetchError{Kind: kind, Message: message}
}

// Wrap attaches a kind to an existing error. Returns nil for a nil cause.
func Wrap(err error, kind Kind, message string) *FetchError {
	if err == nil {
		return nil
	}
	return &FetchError{Kind: kind, Message: message, Cause: err}
}

// KindOf returns the Kind carried by err, classifying on the fly when err is
// not already a FetchError. Returns the empty Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Classify(err)
}

// ErrEnvMissing is the sentinel for a client constructed from placeholder
// credentials. Adapters return it (possibly wrapped) when they were never
// properly configured.
var ErrEnvMissing = errors.New("backend credentials are placeholders; environment not configured")

// ErrSessionExpired is returned by password-change flows when no live session
// exists. It is an action error, not a fetch Kind: callers surface it
// directly instead of classifying it.
var ErrSessionExpired = errors.New("session not found or expired; request a new recovery link")

// APIError is an HTTP-level failure reported by a remote collaborator (auth
// provider or data API). Status carries the HTTP status code so the
// classifier can distinguish authorization denials from everything else.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}
