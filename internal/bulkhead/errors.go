package bulkhead

import (
	"fmt"
	"time"
)

// QueueFullError is the fast-fail admission rejection: the wait queue for the
// service was already at capacity, so no timer was started and nothing was
// enqueued.
type QueueFullError struct {
	Service       string
	QueueCapacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("bulkhead %s: queue full (capacity %d)", e.Service, e.QueueCapacity)
}

// AdmissionTimeoutError reports that a queued operation waited the full
// WaitTimeout without being promoted to execution.
type AdmissionTimeoutError struct {
	Service     string
	WaitTimeout time.Duration
}

func (e *AdmissionTimeoutError) Error() string {
	return fmt.Sprintf("bulkhead %s: admission timed out after %s", e.Service, e.WaitTimeout)
}

// DrainedError reports that a queued operation was rejected by a forced drain.
type DrainedError struct {
	Service string
	Reason  string
}

func (e *DrainedError) Error() string {
	return fmt.Sprintf("bulkhead %s: drained: %s", e.Service, e.Reason)
}
