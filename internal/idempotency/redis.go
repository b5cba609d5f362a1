package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. SET NX with a TTL is the atomic claim,
// which also survives process restarts — the in-memory store cannot protect
// against a duplicate delivery arriving after a restart, this one can.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a RedisStore from a Redis URL.
func NewRedisStore(redisURL string, retention time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: redis.NewClient(opts), retention: retention}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) TryClaim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, claimKey(key), "1", s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseOnFailure(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, claimKey(key)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func claimKey(key string) string {
	return "idempotency:" + key
}

var _ Store = (*RedisStore)(nil)
