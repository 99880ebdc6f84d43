// Package dedupe keeps a call from being processed twice when the workflow
// engine or Close retries a delivery.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL is how long a processed call id is remembered.
const DefaultTTL = 24 * time.Hour

// Deduper records processed call ids in Redis.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger.Named("dedupe")}
}

func key(scope, id string) string {
	return fmt.Sprintf("dedupe:%s:%s", scope, id)
}

// AcquireOnce returns true the first time scope/id is seen within the TTL.
// When Redis is unavailable it returns true so processing is not blocked.
func (d *Deduper) AcquireOnce(ctx context.Context, scope, id string) bool {
	ok, err := d.rdb.SetNX(ctx, key(scope, id), 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("redis unavailable, skipping dedupe", zap.String("id", id), zap.Error(err))
		return true
	}
	return ok
}

// Release forgets scope/id so a later delivery is processed again. Used
// when processing failed.
func (d *Deduper) Release(ctx context.Context, scope, id string) {
	if err := d.rdb.Del(ctx, key(scope, id)).Err(); err != nil {
		d.logger.Warn("failed to release dedupe key", zap.String("id", id), zap.Error(err))
	}
}

// Ping checks the Redis connection.
func (d *Deduper) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}
