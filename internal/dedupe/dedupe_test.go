package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeduper(t *testing.T) (*Deduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Hour, nil), mr
}

func TestAcquireOnce(t *testing.T) {
	d, mr := newTestDeduper(t)
	ctx := context.Background()

	assert.True(t, d.AcquireOnce(ctx, "process-call", "call_1"))
	assert.False(t, d.AcquireOnce(ctx, "process-call", "call_1"))
	assert.True(t, d.AcquireOnce(ctx, "process-call", "call_2"))
	assert.True(t, d.AcquireOnce(ctx, "close-webhook", "call_1"))

	assert.True(t, mr.Exists("dedupe:process-call:call_1"))
	assert.Equal(t, time.Hour, mr.TTL("dedupe:process-call:call_1"))

	mr.FastForward(2 * time.Hour)
	assert.True(t, d.AcquireOnce(ctx, "process-call", "call_1"))
}

func TestRelease(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	require.True(t, d.AcquireOnce(ctx, "process-call", "call_1"))
	d.Release(ctx, "process-call", "call_1")
	assert.True(t, d.AcquireOnce(ctx, "process-call", "call_1"))
}

func TestAcquireOnce_RedisDown(t *testing.T) {
	d, mr := newTestDeduper(t)
	mr.Close()

	assert.True(t, d.AcquireOnce(context.Background(), "process-call", "call_1"))
	assert.Error(t, d.Ping(context.Background()))
}
