// Package tiered implements a two-level (L1 + L2) cache adapter.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/harnessforge/harnessforge/internal/port/cache"
)

// Cache combines an in-process L1 with a shared L2. The L2 decides which
// writer wins; L1 only mirrors what L2 holds.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New creates a tiered cache. l1Expire bounds how long L2 values live in L1.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2. An L2 hit is backfilled into L1.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	c.backfill(ctx, key, val)
	return val, true, nil
}

// AddIfAbsent lets L2 pick the winning value and mirrors it into L1.
func (c *Cache) AddIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, error) {
	stored, err := c.l2.AddIfAbsent(ctx, key, value, ttl)
	if err != nil {
		return nil, err
	}
	c.backfill(ctx, key, stored)
	return stored, nil
}

// Delete removes from both levels.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}

func (c *Cache) backfill(ctx context.Context, key string, val []byte) {
	if _, err := c.l1.AddIfAbsent(ctx, key, val, c.l1Expire); err != nil {
		slog.Warn("l1 backfill failed", "key", key, "error", err)
	}
}
