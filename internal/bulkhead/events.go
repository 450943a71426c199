package bulkhead

import "time"

// EventKind identifies an admission-control notification.
type EventKind string

const (
	EventQueueFull        EventKind = "queue_full"
	EventAdmissionTimeout EventKind = "admission_timeout"
	EventDrained          EventKind = "drained"
)

// Event is published on the registry's notification channel so upstream
// alerting can react without re-entrant callbacks. Consumers must drain the
// channel; sends never block and excess events are counted as dropped.
type Event struct {
	Kind    EventKind
	Service string
	Reason  string
	At      time.Time
}
