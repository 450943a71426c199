package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"carecore/pkg/platform/sentinel"
)

// Store mirrors session records for observability across instances. The
// manager remains the only authority on session state; the mirror is
// best-effort and failures never block transitions.
type Store interface {
	Save(ctx context.Context, rec Record, ttl time.Duration) error
	Find(ctx context.Context, id uuid.UUID) (Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// InMemoryStore is a Store for tests and single-node dev runs. TTLs are
// honored lazily on Find.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]memoryEntry
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[uuid.UUID]memoryEntry)}
}

func (s *InMemoryStore) Save(_ context.Context, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = memoryEntry{rec: rec, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.RLock()
	entry, ok := s.records[id]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return Record{}, sentinel.ErrNotFound
	}
	return entry.rec, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}
