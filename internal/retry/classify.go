package retry

import (
	"context"
	"errors"

	"carecore/pkg/platform/fault"
)

// DefaultRetryable is the domain classification used when a Policy carries no
// predicate. Validation and authorization failures are never retried, whatever
// transport symptoms accompany them: re-invoking them wastes bulkhead capacity
// and masks the root cause. Context cancellation belongs to the caller, not
// the backend, so it is terminal too.
func DefaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch fault.KindOf(err) {
	case fault.KindValidation, fault.KindAuthorization:
		return false
	case fault.KindTimeout, fault.KindUnavailable, fault.KindRateLimited, fault.KindLockContention:
		return true
	}
	return false
}
