package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"carecore/pkg/platform/sentinel"
)

const sessionKeyPrefix = "carecore:session:"

// RedisStore mirrors session records in Redis with a TTL equal to the
// remaining window, so stale mirrors evict themselves.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, rec Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	return s.client.Set(ctx, sessionKeyPrefix+rec.ID.String(), payload, ttl).Err()
}

func (s *RedisStore) Find(ctx context.Context, id uuid.UUID) (Record, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("fetch session record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal session record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.client.Del(ctx, sessionKeyPrefix+id.String()).Err()
}
