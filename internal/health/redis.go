package health

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	probeKey = "reel:health:probe"
	probeTTL = 10 * time.Second
)

// RedisChecker checks connectivity to the session registry store.
type RedisChecker struct {
	client redis.UniversalClient
	name   string
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{
		client: client,
		name:   "redis",
	}
}

func (r *RedisChecker) Name() string {
	return r.name
}

// Check pings Redis and round-trips a short-lived probe key.
func (r *RedisChecker) Check(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client not configured")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	want := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := r.client.Set(ctx, probeKey, want, probeTTL).Err(); err != nil {
		return fmt.Errorf("redis write failed: %w", err)
	}
	got, err := r.client.Get(ctx, probeKey).Result()
	if err != nil {
		return fmt.Errorf("redis read failed: %w", err)
	}
	if got != want {
		return Degraded("redis probe value changed concurrently")
	}
	return nil
}
