// Package cache keeps short-lived checkout results in Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mernshop/checkout/internal/domain/checkout"
)

const finalizedPrefix = "checkout:finalized:"

// NewClient creates a Redis client from a redis:// URL and verifies
// connectivity.
func NewClient(ctx context.Context, redisURL string, lg *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	lg.Info("Redis client connected", zap.String("addr", opts.Addr))
	return rdb, nil
}

var _ checkout.ResultCache = (*Finalized)(nil)

// Finalized maps checkout session ids to the id of the order they completed.
type Finalized struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewFinalized creates a Finalized cache. Entries expire after ttl.
func NewFinalized(rdb redis.Cmdable, ttl time.Duration) *Finalized {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Finalized{rdb: rdb, ttl: ttl}
}

// Lookup returns the order id stored for sessionID.
func (c *Finalized) Lookup(ctx context.Context, sessionID string) (string, bool, error) {
	id, err := c.rdb.Get(ctx, finalizedPrefix+sessionID).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("get finalized session %q: %w", sessionID, err)
	}
	return id, true, nil
}

// Store remembers that sessionID completed orderID.
func (c *Finalized) Store(ctx context.Context, sessionID, orderID string) error {
	if err := c.rdb.Set(ctx, finalizedPrefix+sessionID, orderID, c.ttl).Err(); err != nil {
		return fmt.Errorf("set finalized session %q: %w", sessionID, err)
	}
	return nil
}
