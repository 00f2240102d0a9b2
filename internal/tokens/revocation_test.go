package tokens

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestInMemoryStore_NotRevokedByDefault(t *testing.T) {
	store := NewInMemoryStore()

	revoked, err := store.IsRevoked(context.Background(), "job-1", time.Now())
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if revoked {
		t.Error("fresh job should have no revocation")
	}
}

func TestInMemoryStore_RevokesOlderTokens(t *testing.T) {
	store := NewInMemoryStore()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	ctx := context.Background()
	if err := store.InvalidateJobTokens(ctx, "job-1"); err != nil {
		t.Fatalf("InvalidateJobTokens() error = %v", err)
	}

	tests := []struct {
		name     string
		issuedAt time.Time
		want     bool
	}{
		{"issued before revocation", base.Add(-time.Hour), true},
		{"issued same second as revocation", base, true},
		{"issued after revocation", base.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			revoked, err := store.IsRevoked(ctx, "job-1", tt.issuedAt)
			if err != nil {
				t.Fatalf("IsRevoked() error = %v", err)
			}
			if revoked != tt.want {
				t.Errorf("IsRevoked() = %v, want %v", revoked, tt.want)
			}
		})
	}
}

func TestInMemoryStore_JobsAreIndependent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.InvalidateJobTokens(ctx, "job-1"); err != nil {
		t.Fatalf("InvalidateJobTokens() error = %v", err)
	}

	revoked, err := store.IsRevoked(ctx, "job-2", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if revoked {
		t.Error("revoking job-1 should not affect job-2 tokens")
	}
}

// TestRedisStore_Revocation exercises the Redis store against a real Redis
// instance on localhost:6379. Skipped when Redis is not available.
func TestRedisStore_Revocation(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer client.Close()

	store := NewRedisStore(client)
	jobID := "test-job-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	ctx = context.Background()

	revoked, err := store.IsRevoked(ctx, jobID, time.Now())
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if revoked {
		t.Error("job without a marker should not be revoked")
	}

	if err := store.InvalidateJobTokens(ctx, jobID); err != nil {
		t.Fatalf("InvalidateJobTokens() error = %v", err)
	}
	defer client.Del(ctx, revocationKeyPrefix+jobID)

	revoked, err = store.IsRevoked(ctx, jobID, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if !revoked {
		t.Error("token issued before revocation should be revoked")
	}

	revoked, err = store.IsRevoked(ctx, jobID, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if revoked {
		t.Error("token issued after revocation should not be revoked")
	}
}
