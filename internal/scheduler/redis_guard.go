package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const guardKeyPrefix = "automation:firing:"

// RedisGuard implements the firing lease on Redis. SET NX with a TTL
// gives at-most-one dispatch per firing key across all engine processes
// while the lease lives; the run store's unique idempotency key covers
// the window after the lease expires.
type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

// Acquire takes the lease for a firing key. Returns false when another
// process holds it.
func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := g.client.SetNX(ctx, guardKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire firing lease: %w", err)
	}
	return acquired, nil
}
