package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// challengeKeyPrefix is the Redis key prefix for stored challenges.
const challengeKeyPrefix = "captcha:"

// ChallengeStore keeps issued challenges until they are answered.
type ChallengeStore interface {
	// Save stores rec under key, replacing any previous challenge.
	Save(ctx context.Context, key string, rec ChallengeRecord) error

	// Take atomically reads and deletes the challenge under key. It
	// returns nil when there is none. Two concurrent Takes for the same
	// key never both see the record.
	Take(ctx context.Context, key string) (*ChallengeRecord, error)
}

// MemoryStore is a process-local ChallengeStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]ChallengeRecord

	// retention is how long past expiry a record is kept so it can still
	// be reported as expired rather than missing.
	retention time.Duration
	nowFunc   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]ChallengeRecord),
		retention: 10 * time.Minute,
		nowFunc:   time.Now,
	}
}

// Save implements ChallengeStore. Abandoned records are pruned on write.
func (s *MemoryStore) Save(_ context.Context, key string, rec ChallengeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.nowFunc().Add(-s.retention)
	for k, r := range s.records {
		if r.ExpiresAt.Before(cutoff) {
			delete(s.records, k)
		}
	}
	s.records[key] = rec
	return nil
}

// Take implements ChallengeStore.
func (s *MemoryStore) Take(_ context.Context, key string) (*ChallengeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	delete(s.records, key)
	return &rec, nil
}

// RedisStore keeps challenges in Redis and consumes them with GETDEL.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, retention: 10 * time.Minute}
}

// Save implements ChallengeStore. The key outlives the challenge by the
// retention period so late answers are reported as expired.
func (s *RedisStore) Save(ctx context.Context, key string, rec ChallengeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling challenge: %w", err)
	}

	ttl := time.Until(rec.ExpiresAt) + s.retention
	if err := s.client.Set(ctx, challengeKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing challenge in Redis: %w", err)
	}
	return nil
}

// Take implements ChallengeStore.
func (s *RedisStore) Take(ctx context.Context, key string) (*ChallengeRecord, error) {
	data, err := s.client.GetDel(ctx, challengeKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taking challenge from Redis: %w", err)
	}

	var rec ChallengeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling challenge: %w", err)
	}
	return &rec, nil
}
