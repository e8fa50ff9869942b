package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const replayKeyPrefix = "paybridge:notify:"

// RedisReplayProtector guards callback delivery against duplicate sends
// using SETNX semantics. A nil client disables the guard rather than
// blocking delivery.
type RedisReplayProtector struct {
	Client *redis.Client
}

// Acquire claims the delivery key for the TTL. The second return is false
// when another delivery already holds it.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, replayKeyPrefix+key, "1", ttl).Result()
}

// Release frees the key so a failed delivery can be retried.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, replayKeyPrefix+key).Err()
}
