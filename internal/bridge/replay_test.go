package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestReplayGuardRejectsDuplicatePayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := ReplayGuard{R: client, TTL: time.Minute}
	ctx := context.Background()
	payload := []byte(`{"type":"payment_result","result":{"status":"PAID"}}`)

	require.True(t, guard.FirstDelivery(ctx, "attempt-1", payload))
	require.False(t, guard.FirstDelivery(ctx, "attempt-1", payload))

	// Same payload for a different attempt is not a replay.
	require.True(t, guard.FirstDelivery(ctx, "attempt-2", payload))
	// A different payload for the same attempt is not a replay.
	require.True(t, guard.FirstDelivery(ctx, "attempt-1", []byte("payment_cancelled")))
}

func TestReplayGuardFailsOpenWithoutRedis(t *testing.T) {
	guard := ReplayGuard{}
	require.True(t, guard.FirstDelivery(context.Background(), "attempt-1", []byte("x")))
}
