package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"carecore/pkg/platform/schedule"
	"carecore/pkg/platform/sentinel"
)

// Config holds the fixed-window knobs.
type Config struct {
	// Duration is the fixed session length. ExpiresAt = StartTime + Duration.
	Duration time.Duration
	// WarningLead is how long before expiry the one-time warning fires.
	WarningLead time.Duration
}

// Manager owns all session records. Transitions are driven by the shared
// deadline scheduler and re-checked lazily on every query, which covers
// process sleeps and clock skew a timer alone would miss.
type Manager struct {
	cfg      Config
	sched    *schedule.Scheduler
	ownSched bool
	store    Store
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
	events   chan Event

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithStore attaches a write-through mirror. Mirror failures are logged and
// never block session state.
func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock pins the time source in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithScheduler shares an externally owned scheduler; the manager will not
// stop it on Close.
func WithScheduler(s *schedule.Scheduler) Option {
	return func(m *Manager) {
		m.sched = s
		m.ownSched = false
	}
}

// NewManager creates a session manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("session: duration must be positive")
	}
	if cfg.WarningLead <= 0 || cfg.WarningLead >= cfg.Duration {
		return nil, fmt.Errorf("session: warning lead must be within the session duration")
	}

	m := &Manager{
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		events:   make(chan Event, 64),
		sessions: make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sched == nil {
		m.sched = schedule.New()
		m.ownSched = true
	}
	return m, nil
}

// Create starts a session for actorID. The expiry is fixed now; nothing moves
// it afterwards.
func (m *Manager) Create(ctx context.Context, actorID string) (Status, error) {
	now := m.now()
	s := &Session{
		ID:        uuid.New(),
		ActorID:   actorID,
		StartTime: now,
		ExpiresAt: now.Add(m.cfg.Duration),
		LastSeen:  now,
		state:     StateActive,
	}

	id := s.ID
	s.warnHandle = m.sched.Schedule(m.cfg.Duration-m.cfg.WarningLead, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if live, ok := m.sessions[id]; ok {
			m.warnLocked(live)
		}
	})
	s.expireHandle = m.sched.Schedule(m.cfg.Duration, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if live, ok := m.sessions[id]; ok {
			m.expireLocked(live)
		}
	})

	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	status := m.statusLocked(s)
	m.mu.Unlock()

	m.metrics.setLive(count)
	m.metrics.incCreated()
	m.mirror(ctx, s)
	return status, nil
}

// Status reports the session state, applying lazy transitions first.
func (m *Manager) Status(ctx context.Context, id uuid.UUID) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Status{}, fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	m.checkLocked(s)
	return m.statusLocked(s), nil
}

// Touch records activity for observability. It never extends the session;
// touching an expired session reports ErrExpired.
func (m *Manager) Touch(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	m.checkLocked(s)
	if s.state == StateExpired {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, sentinel.ErrExpired)
	}
	s.LastSeen = m.now()
	snapshot := *s
	m.mu.Unlock()

	m.mirror(ctx, &snapshot)
	return nil
}

// Valid reports whether the session exists and has not expired. Callers must
// treat false as an authorization failure before sensitive work.
func (m *Manager) Valid(ctx context.Context, id uuid.UUID) bool {
	st, err := m.Status(ctx, id)
	return err == nil && st.State != StateExpired
}

// Expire forces the terminal transition. Idempotent: the expiry notification
// fires exactly once per session however many times this races the timer.
func (m *Manager) Expire(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	m.expireLocked(s)
	return nil
}

// Teardown removes the session and cancels both deadlines so no callback can
// run against a destroyed session.
func (m *Manager) Teardown(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	s.warnHandle.Cancel()
	s.expireHandle.Cancel()
	delete(m.sessions, id)
	count := len(m.sessions)
	actorID := s.ActorID
	m.mu.Unlock()

	m.metrics.setLive(count)
	m.publish(Event{Kind: EventTornDown, SessionID: id, ActorID: actorID, At: m.now()})
	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.Warn("session mirror delete failed", "session_id", id, "error", err)
		}
	}
	return nil
}

// Sweep removes expired sessions from the registry. Run it periodically; the
// lazy checks keep correctness either way.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.Lock()
	var removed []uuid.UUID
	for id, s := range m.sessions {
		m.checkLocked(s)
		if s.state == StateExpired {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.setLive(count)
	if m.store != nil {
		for _, id := range removed {
			if err := m.store.Delete(ctx, id); err != nil {
				m.logger.Warn("session mirror delete failed", "session_id", id, "error", err)
			}
		}
	}
	return len(removed)
}

// Events is the notification channel for warning/expiry/teardown events.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Live returns the number of registered sessions, expired ones included until
// swept.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops the manager's scheduler when it owns one.
func (m *Manager) Close() {
	if m.ownSched {
		m.sched.Stop()
	}
}

// checkLocked applies lazy state transitions from the current clock.
func (m *Manager) checkLocked(s *Session) {
	if s.state == StateExpired {
		return
	}
	now := m.now()
	if !now.Before(s.ExpiresAt) {
		m.expireLocked(s)
		return
	}
	if s.ExpiresAt.Sub(now) <= m.cfg.WarningLead {
		m.warnLocked(s)
	}
}

// warnLocked issues the one-time warning. Caller holds m.mu.
func (m *Manager) warnLocked(s *Session) {
	if s.state != StateActive {
		return
	}
	s.state = StateWarningIssued
	s.warnHandle.Cancel()
	m.metrics.incWarnings()
	m.publish(Event{Kind: EventWarning, SessionID: s.ID, ActorID: s.ActorID, At: m.now()})
}

// expireLocked performs the terminal transition exactly once. Caller holds m.mu.
func (m *Manager) expireLocked(s *Session) {
	if s.state == StateExpired {
		return
	}
	s.state = StateExpired
	s.warnHandle.Cancel()
	s.expireHandle.Cancel()
	m.metrics.incExpired()
	m.publish(Event{Kind: EventExpired, SessionID: s.ID, ActorID: s.ActorID, At: m.now()})
}

func (m *Manager) statusLocked(s *Session) Status {
	remaining := s.ExpiresAt.Sub(m.now())
	if remaining < 0 || s.state == StateExpired {
		remaining = 0
	}
	return Status{
		ID:                s.ID,
		ActorID:           s.ActorID,
		State:             s.state,
		StartTime:         s.StartTime,
		ExpiresAt:         s.ExpiresAt,
		LastSeen:          s.LastSeen,
		Remaining:         remaining,
		ShouldShowWarning: s.state == StateWarningIssued,
	}
}

func (m *Manager) publish(e Event) {
	select {
	case m.events <- e:
	default:
		m.logger.Warn("session event dropped, channel full",
			"kind", string(e.Kind),
			"session_id", e.SessionID,
		)
	}
}

// mirror writes the session snapshot through to the optional store.
func (m *Manager) mirror(ctx context.Context, s *Session) {
	if m.store == nil {
		return
	}
	rec := Record{
		ID:        s.ID,
		ActorID:   s.ActorID,
		StartTime: s.StartTime,
		ExpiresAt: s.ExpiresAt,
		LastSeen:  s.LastSeen,
		State:     s.state,
	}
	ttl := s.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return
	}
	if err := m.store.Save(ctx, rec, ttl); err != nil {
		m.logger.Warn("session mirror save failed", "session_id", s.ID, "error", err)
	}
}
