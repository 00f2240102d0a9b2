// Package tokens implements job-scoped token revocation. Sealing a job
// invalidates every outstanding edit token for that job, so a device that
// still holds a pre-seal token cannot mutate evidence after the fact.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRevocationTTL is how long a revocation marker is retained. It must
// be at least as long as the longest-lived job edit token, so every token
// issued before the revocation has expired on its own by the time the marker
// is evicted.
const DefaultRevocationTTL = 24 * time.Hour

// revocationKeyPrefix namespaces revocation markers in Redis.
const revocationKeyPrefix = "jobproof:job_edit_revoked:"

// Store tracks which jobs have had their edit tokens revoked.
type Store interface {
	// InvalidateJobTokens marks every edit token for the job as revoked,
	// effective from the current time.
	InvalidateJobTokens(ctx context.Context, jobID string) error

	// IsRevoked reports whether a token issued at issuedAt for the job has
	// been revoked. Tokens issued after the revocation are unaffected.
	IsRevoked(ctx context.Context, jobID string, issuedAt time.Time) (bool, error)
}

// RedisStore implements Store on Redis. The marker value is the revocation
// time as a unix timestamp; comparing against the token's iat claim decides
// whether a given token survives.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a RedisStore with the default retention TTL.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    DefaultRevocationTTL,
		now:    time.Now,
	}
}

// InvalidateJobTokens writes the revocation marker for the job.
func (s *RedisStore) InvalidateJobTokens(ctx context.Context, jobID string) error {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	if err := s.client.Set(ctx, revocationKeyPrefix+jobID, ts, s.ttl).Err(); err != nil {
		return fmt.Errorf("set revocation marker: %w", err)
	}
	return nil
}

// IsRevoked checks the revocation marker for the job.
func (s *RedisStore) IsRevoked(ctx context.Context, jobID string, issuedAt time.Time) (bool, error) {
	val, err := s.client.Get(ctx, revocationKeyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get revocation marker: %w", err)
	}

	revokedAt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse revocation marker %q: %w", val, err)
	}
	// Second precision matches the iat claim; a token minted in the same
	// second as the revocation is treated as revoked.
	return issuedAt.Unix() <= revokedAt, nil
}

// InMemoryStore is an in-memory implementation of Store.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewInMemoryStore creates a new in-memory revocation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// InvalidateJobTokens marks the job's edit tokens as revoked.
func (s *InMemoryStore) InvalidateJobTokens(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jobID] = s.now()
	return nil
}

// IsRevoked reports whether a token issued at issuedAt has been revoked.
func (s *InMemoryStore) IsRevoked(_ context.Context, jobID string, issuedAt time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revokedAt, ok := s.revoked[jobID]
	if !ok {
		return false, nil
	}
	return issuedAt.Unix() <= revokedAt.Unix(), nil
}
