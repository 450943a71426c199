// Package session tracks fixed-window sessions. The expiry time is set once
// at creation; no activity can move it.
package session

import (
	"time"

	"github.com/google/uuid"

	"carecore/pkg/platform/schedule"
)

// State is the session lifecycle state.
type State string

const (
	StateActive        State = "active"
	StateWarningIssued State = "warning_issued"
	StateExpired       State = "expired"
)

// Session is the manager-owned record. ExpiresAt is immutable once set.
type Session struct {
	ID        uuid.UUID
	ActorID   string
	StartTime time.Time
	ExpiresAt time.Time
	// LastSeen is observability only; it has zero effect on expiry.
	LastSeen time.Time

	state        State
	warnHandle   *schedule.Handle
	expireHandle *schedule.Handle
}

// Status is the caller-facing view of a session.
type Status struct {
	ID                uuid.UUID
	ActorID           string
	State             State
	StartTime         time.Time
	ExpiresAt         time.Time
	LastSeen          time.Time
	Remaining         time.Duration
	ShouldShowWarning bool
}

// EventKind identifies a session notification.
type EventKind string

const (
	EventWarning  EventKind = "warning"
	EventExpired  EventKind = "expired"
	EventTornDown EventKind = "torn_down"
)

// Event is published on the manager's notification channel; the route layer
// drains it instead of registering re-entrant callbacks.
type Event struct {
	Kind      EventKind
	SessionID uuid.UUID
	ActorID   string
	At        time.Time
}

// Record is the store-facing snapshot mirrored for cross-instance visibility.
type Record struct {
	ID        uuid.UUID `json:"id"`
	ActorID   string    `json:"actor_id"`
	StartTime time.Time `json:"start_time"`
	ExpiresAt time.Time `json:"expires_at"`
	LastSeen  time.Time `json:"last_seen"`
	State     State     `json:"state"`
}
