// Package fault defines the normalized failure taxonomy for calls to
// external services.
//
// Errors are classified at their origin: the adapter that talks to a backend
// wraps every failure in an *Error carrying a Kind from the closed set below.
// Downstream policy (retry classification, HTTP translation) is then a pure
// match over Kind instead of speculative probing for status fields.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the normalized failure category.
type Kind string

const (
	// KindTimeout indicates the backend took too long to respond.
	KindTimeout Kind = "timeout"

	// KindUnavailable indicates the backend is down or unreachable.
	KindUnavailable Kind = "unavailable"

	// KindRateLimited indicates the backend rejected the call for pacing.
	KindRateLimited Kind = "rate_limited"

	// KindLockContention indicates a transient conflict on a shared resource.
	KindLockContention Kind = "lock_contention"

	// KindValidation indicates the request itself is malformed
	// (e.g., an invalid RUT). Re-invoking the same call cannot succeed.
	KindValidation Kind = "validation"

	// KindAuthorization indicates credential or permission issues.
	KindAuthorization Kind = "authorization"

	// KindNotFound indicates the requested record does not exist.
	KindNotFound Kind = "not_found"

	// KindInternal indicates an unexpected internal error.
	KindInternal Kind = "internal"
)

// Error wraps a backend failure with its normalized classification.
type Error struct {
	Kind       Kind
	Service    string
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Service, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Service, e.Kind, e.Message)
}

// Unwrap supports error unwrapping.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a classified error for the named service.
func New(kind Kind, service, message string, underlying error) *Error {
	return &Error{
		Kind:       kind,
		Service:    service,
		Message:    message,
		Underlying: underlying,
	}
}

// KindOf extracts the classification from an error chain.
// Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
