package bridge

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/paybridge/internal/common"
)

// ReplayGuard rejects duplicate bridge payloads per attempt. Keys are the
// payload hash scoped to the attempt id so identical messages for different
// attempts do not collide.
type ReplayGuard struct {
	R   *redis.Client
	TTL time.Duration
}

// FirstDelivery reports whether this payload has not been seen before for the
// attempt. When Redis is unavailable the message is let through; dropping
// results on an infrastructure hiccup would strand real payments.
func (g ReplayGuard) FirstDelivery(ctx context.Context, attemptID string, payload []byte) bool {
	if g.R == nil {
		return true
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	key := "paybridge:replay:" + attemptID + ":" + common.Sha256Hex(string(payload))
	ok, err := g.R.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return true
	}
	return ok
}
