package memory

import (
	"context"
	"sync"

	"carecore/internal/audit"
)

// Sink is an in-memory append-only sink for tests and single-node dev runs.
type Sink struct {
	mu     sync.RWMutex
	events []audit.Event
}

func New() *Sink {
	return &Sink{}
}

func (s *Sink) AppendBatch(_ context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// ListRecent returns the most recent limit events, oldest first.
func (s *Sink) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]audit.Event, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out, nil
}

// ListBySession returns all events referencing the given session id.
func (s *Sink) ListBySession(_ context.Context, sessionID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
