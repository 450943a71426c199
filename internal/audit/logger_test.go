package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-integrity-key")

// fakeSink collects batches and can be toggled to fail.
type fakeSink struct {
	mu      sync.Mutex
	batches [][]Event
	failing bool
}

func (s *fakeSink) AppendBatch(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("sink unavailable")
	}
	batch := make([]Event, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeSink) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *fakeSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func newTestLogger(t *testing.T, sink Sink, cfg Config) *Logger {
	t.Helper()
	l, err := New(testKey, sink, cfg)
	require.NoError(t, err)
	return l
}

func TestNew_RequiresKeyAndSink(t *testing.T) {
	_, err := New(nil, &fakeSink{}, Config{})
	assert.Error(t, err)

	_, err = New(testKey, nil, Config{})
	assert.Error(t, err)
}

func TestLog_ConstructsSealedEvent(t *testing.T) {
	sink := &fakeSink{}
	l := newTestLogger(t, sink, Config{BufferCapacity: 10, FlushInterval: time.Hour})

	e := l.Log(context.Background(), Record{
		ActorID:     "doctor-7",
		SessionID:   "sess-1",
		SubjectID:   "12.345.678-5",
		Action:      ActionView,
		Resource:    ResourcePatientRecord,
		ResourceID:  "rec-42",
		OutcomeCode: 200,
	})

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, RiskMedium, e.RiskLevel, "view classifies as medium")
	assert.NotEmpty(t, e.IntegrityHash)
	assert.NotContains(t, e.SubjectHash, "12.345.678", "raw identifier must never be stored")
	assert.Equal(t, HashSubject("12345678-5"), e.SubjectHash, "hash ignores formatting")
	assert.True(t, l.Verify(e))

	// Medium risk stays buffered until a periodic flush.
	assert.Equal(t, 1, l.Depth())
	assert.Empty(t, sink.all())
}

func TestLog_RiskOverride(t *testing.T) {
	l := newTestLogger(t, &fakeSink{}, Config{BufferCapacity: 10, FlushInterval: time.Hour})

	e := l.Log(context.Background(), Record{
		ActorID:      "doctor-7",
		Action:       ActionView,
		Resource:     ResourceDocument,
		RiskOverride: RiskHigh,
	})
	assert.Equal(t, RiskHigh, e.RiskLevel)
}

func TestLog_CriticalFlushesEagerly(t *testing.T) {
	sink := &fakeSink{}
	l := newTestLogger(t, sink, Config{BufferCapacity: 100, FlushInterval: time.Hour})

	l.Log(context.Background(), Record{
		ActorID:  "admin-1",
		Action:   ActionExport,
		Resource: ResourcePatientRecord,
	})

	assert.Equal(t, 0, l.Depth())
	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, RiskCritical, events[0].RiskLevel)
}

func TestLog_CapacityTriggersFlush(t *testing.T) {
	sink := &fakeSink{}
	l := newTestLogger(t, sink, Config{BufferCapacity: 3, FlushInterval: time.Hour})

	for i := 0; i < 3; i++ {
		l.Log(context.Background(), Record{
			ActorID:  "doctor-7",
			Action:   ActionView,
			Resource: ResourceDocument,
		})
	}

	assert.Equal(t, 0, l.Depth())
	assert.Len(t, sink.all(), 3)
}

func TestFlush_FailureRebuffersInOrder(t *testing.T) {
	sink := &fakeSink{}
	sink.setFailing(true)
	l := newTestLogger(t, sink, Config{BufferCapacity: 100, FlushInterval: time.Hour})

	first := l.Log(context.Background(), Record{ActorID: "a", Action: ActionView, Resource: ResourceDocument})
	second := l.Log(context.Background(), Record{ActorID: "b", Action: ActionView, Resource: ResourceDocument})

	require.Error(t, l.Flush(context.Background()))
	assert.Equal(t, 2, l.Depth(), "failed flush must not drop events")

	// New events land behind the re-buffered batch.
	third := l.Log(context.Background(), Record{ActorID: "c", Action: ActionView, Resource: ResourceDocument})

	sink.setFailing(false)
	require.NoError(t, l.Flush(context.Background()))

	events := sink.all()
	require.Len(t, events, 3)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID, third.ID},
		[]uuid.UUID{events[0].ID, events[1].ID, events[2].ID},
		"original order preserved across the failed flush")
	assert.Equal(t, 0, l.Depth())
}

func TestHighWater_SurfacedNotAbsorbed(t *testing.T) {
	sink := &fakeSink{}
	sink.setFailing(true)
	l := newTestLogger(t, sink, Config{BufferCapacity: 2, FlushInterval: time.Hour, HighWater: 4})

	for i := 0; i < 6; i++ {
		l.Log(context.Background(), Record{ActorID: "a", Action: ActionView, Resource: ResourceDocument})
	}

	// Events keep accumulating past capacity under sustained sink failure.
	assert.GreaterOrEqual(t, l.Depth(), 4)
	l.mu.Lock()
	raised := l.alarmRaised
	l.mu.Unlock()
	assert.True(t, raised, "high-water breach must be escalated")

	sink.setFailing(false)
	require.NoError(t, l.Flush(context.Background()))
	assert.Len(t, sink.all(), 6, "no event dropped during the outage")

	l.mu.Lock()
	raised = l.alarmRaised
	l.mu.Unlock()
	assert.False(t, raised, "alarm clears once the sink drains")
}

func TestIntegrityHash_TamperDetection(t *testing.T) {
	l := newTestLogger(t, &fakeSink{}, Config{BufferCapacity: 10, FlushInterval: time.Hour})

	e := l.Log(context.Background(), Record{
		ActorID:     "doctor-7",
		SubjectID:   "9.876.543-2",
		Action:      ActionUpdate,
		Resource:    ResourcePatientRecord,
		OutcomeCode: 200,
	})
	require.True(t, l.Verify(e))

	tampered := e
	tampered.OutcomeCode = 500
	assert.False(t, l.Verify(tampered), "field tamper must diverge from stored hash")

	tampered = e
	tampered.ActorID = "intruder"
	assert.False(t, l.Verify(tampered))

	wrongKey := Verify([]byte("other-key"), e)
	assert.False(t, wrongKey, "hash is bound to the process-held secret")
}

func TestLogCorrection_ReferencesOriginal(t *testing.T) {
	sink := &fakeSink{}
	l := newTestLogger(t, sink, Config{BufferCapacity: 10, FlushInterval: time.Hour})

	original := l.Log(context.Background(), Record{
		ActorID:     "doctor-7",
		Action:      ActionUpdate,
		Resource:    ResourceInvoice,
		OutcomeCode: 200,
	})

	correction := l.LogCorrection(context.Background(), original.ID, Record{
		ActorID:     "doctor-7",
		Resource:    ResourceInvoice,
		OutcomeCode: 200,
	})

	assert.Equal(t, ActionCorrection, correction.Action)
	assert.Equal(t, original.ID, correction.CorrectionOf)
	assert.NotEqual(t, original.ID, correction.ID)
	assert.True(t, l.Verify(correction))
}

func TestRun_PeriodicFlush(t *testing.T) {
	sink := &fakeSink{}
	l := newTestLogger(t, sink, Config{BufferCapacity: 100, FlushInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	l.Log(context.Background(), Record{ActorID: "a", Action: ActionView, Resource: ResourceDocument})

	require.Eventually(t, func() bool { return len(sink.all()) == 1 },
		time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
