package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carecore/pkg/platform/sentinel"
)

// fakeClock lets tests walk a session through its window without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, clock *fakeClock, opts ...Option) *Manager {
	t.Helper()
	cfg := Config{Duration: 20 * time.Minute, WarningLead: 2 * time.Minute}
	opts = append(opts, WithClock(clock.Now))
	m, err := NewManager(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestNewManager_ValidatesConfig(t *testing.T) {
	_, err := NewManager(Config{Duration: 0, WarningLead: time.Minute})
	assert.Error(t, err)

	_, err = NewManager(Config{Duration: time.Minute, WarningLead: time.Minute})
	assert.Error(t, err, "warning lead must be shorter than the window")
}

func TestFixedWindow_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := context.Background()

	created, err := m.Create(ctx, "doctor-7")
	require.NoError(t, err)
	assert.Equal(t, StateActive, created.State)
	assert.Equal(t, created.StartTime.Add(20*time.Minute), created.ExpiresAt)

	// T+18min: inside the warning window.
	clock.Advance(18 * time.Minute)
	st, err := m.Status(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWarningIssued, st.State)
	assert.True(t, st.ShouldShowWarning)
	assert.Equal(t, 2*time.Minute, st.Remaining)

	// T+19min: activity updates LastSeen only; the expiry does not move.
	clock.Advance(time.Minute)
	require.NoError(t, m.Touch(ctx, created.ID))
	st, err = m.Status(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ExpiresAt, st.ExpiresAt, "activity must never extend the window")
	assert.Equal(t, clock.Now(), st.LastSeen)

	// T+20min: hard expiry.
	clock.Advance(time.Minute)
	st, err = m.Status(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, st.State)
	assert.Equal(t, time.Duration(0), st.Remaining)
	assert.False(t, m.Valid(ctx, created.ID))

	assert.ErrorIs(t, m.Touch(ctx, created.ID), sentinel.ErrExpired)
}

func TestWarning_FiresOnce(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := context.Background()

	created, err := m.Create(ctx, "doctor-7")
	require.NoError(t, err)

	clock.Advance(18*time.Minute + 30*time.Second)
	for i := 0; i < 5; i++ {
		st, err := m.Status(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, st.ShouldShowWarning)
	}

	var warnings int
	for {
		select {
		case e := <-m.Events():
			if e.Kind == EventWarning {
				warnings++
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, warnings, "repeated checks in the warning window must not refire")
}

func TestExpire_Idempotent(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := context.Background()

	created, err := m.Create(ctx, "doctor-7")
	require.NoError(t, err)

	require.NoError(t, m.Expire(ctx, created.ID))
	require.NoError(t, m.Expire(ctx, created.ID), "expiring an expired session is a no-op")

	var expirations int
	for {
		select {
		case e := <-m.Events():
			if e.Kind == EventExpired {
				expirations++
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, expirations, "expiry notification fires exactly once per session")

	st, err := m.Status(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, st.State)
}

func TestTeardown_RemovesAndCancelsTimers(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := context.Background()

	created, err := m.Create(ctx, "doctor-7")
	require.NoError(t, err)

	require.NoError(t, m.Teardown(ctx, created.ID))
	_, err = m.Status(ctx, created.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.ErrorIs(t, m.Teardown(ctx, created.ID), sentinel.ErrNotFound)
	assert.Equal(t, 0, m.Live())
}

func TestSweep_RemovesExpiredOnly(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := context.Background()

	old, err := m.Create(ctx, "doctor-7")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	fresh, err := m.Create(ctx, "doctor-8")
	require.NoError(t, err)

	// Old session past its window, fresh one in the middle of its own.
	clock.Advance(11 * time.Minute)
	removed := m.Sweep(ctx)
	assert.Equal(t, 1, removed)

	_, err = m.Status(ctx, old.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.True(t, m.Valid(ctx, fresh.ID))
}

func TestScheduledTransitions_RealTimers(t *testing.T) {
	m, err := NewManager(Config{Duration: 120 * time.Millisecond, WarningLead: 60 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	ctx := context.Background()

	created, err := m.Create(ctx, "doctor-7")
	require.NoError(t, err)

	var kinds []EventKind
	deadline := time.After(2 * time.Second)
	for len(kinds) < 2 {
		select {
		case e := <-m.Events():
			kinds = append(kinds, e.Kind)
		case <-deadline:
			t.Fatalf("timer transitions incomplete, got %v", kinds)
		}
	}
	assert.Equal(t, []EventKind{EventWarning, EventExpired}, kinds)

	st, err := m.Status(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, st.State)
}

func TestMirror_WriteThrough(t *testing.T) {
	clock := newFakeClock()
	store := NewInMemoryStore()
	m := newTestManager(t, clock, WithStore(store))
	ctx := context.Background()

	created, err := m.Create(ctx, "doctor-7")
	require.NoError(t, err)

	rec, err := store.Find(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "doctor-7", rec.ActorID)
	assert.Equal(t, created.ExpiresAt, rec.ExpiresAt)

	require.NoError(t, m.Teardown(ctx, created.ID))
	_, err = store.Find(ctx, created.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestStatus_UnknownSession(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	_, err := m.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
