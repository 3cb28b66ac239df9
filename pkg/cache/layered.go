package cache

import (
	"context"
	"time"
)

// LayeredCache fronts Redis with an in-process layer. Writes go
// through to both; reads that miss memory and hit Redis are promoted.
type LayeredCache struct {
	mem *MemoryCache
	rd  *RedisCache
}

// NewLayeredCache creates a layered cache over an existing Redis cache.
func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{MemoryMaxSize: 1000}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		mem: NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		rd:  redisCache,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.rd.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, value, expiration)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		return nil
	}
	if err := lc.rd.Get(ctx, key, dest); err != nil {
		return err
	}
	// Promote string values only; the memory layer stores values
	// as-is, so promoting arbitrary pointers would alias the caller's
	// destination.
	if sp, ok := dest.(*string); ok {
		_ = lc.mem.Set(ctx, key, *sp, 0)
	}
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.rd.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.rd.Exists(ctx, keys...)
}

func (lc *LayeredCache) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	return lc.rd.Expire(ctx, key, expiration)
}

// Close closes both layers.
func (lc *LayeredCache) Close() error {
	_ = lc.mem.Close()
	return lc.rd.Close()
}
