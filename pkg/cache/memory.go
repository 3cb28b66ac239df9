package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryItem struct {
	value    interface{}
	expireAt time.Time
}

func (m *memoryItem) expired() bool { return time.Now().After(m.expireAt) }

// MemoryCache is an in-process cache with LRU eviction and a periodic
// expired-entry sweep.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*memoryItem
	touched map[string]time.Time
	maxSize int
	sweep   *time.Ticker
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		items:   make(map[string]*memoryItem),
		touched: make(map[string]time.Time),
		maxSize: cfg.MaxSize,
		sweep:   time.NewTicker(cfg.CleanupInterval),
	}
	go mc.sweepExpired()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.items) >= mc.maxSize {
		mc.evictOldest()
	}

	if expiration <= 0 {
		expiration = 7 * 24 * time.Hour
	}
	mc.items[key] = &memoryItem{value: value, expireAt: time.Now().Add(expiration)}
	mc.touched[key] = time.Now()
	return nil
}

// Get fills dest from the cache. Only *string and *interface{}
// destinations are supported; the memory layer stores values as-is and
// does not unmarshal.
func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, exists := mc.items[key]
	if !exists || item.expired() {
		if exists {
			delete(mc.items, key)
			delete(mc.touched, key)
		}
		return ErrCacheMiss
	}
	mc.touched[key] = time.Now()

	switch d := dest.(type) {
	case *string:
		switch v := item.value.(type) {
		case string:
			*d = v
			return nil
		case *string:
			*d = *v
			return nil
		}
	case *interface{}:
		*d = item.value
		return nil
	}
	return fmt.Errorf("cache: unsupported destination type %T", dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, key := range keys {
		delete(mc.items, key)
		delete(mc.touched, key)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, key := range keys {
		if item, ok := mc.items[key]; ok && !item.expired() {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) Expire(_ context.Context, key string, expiration time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if item, ok := mc.items[key]; ok {
		item.expireAt = time.Now().Add(expiration)
		return true, nil
	}
	return false, nil
}

// Close stops the sweep ticker.
func (mc *MemoryCache) Close() error {
	if mc.sweep != nil {
		mc.sweep.Stop()
	}
	return nil
}

// evictOldest requires mc.mu held.
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	oldestTime := time.Now()
	for key, at := range mc.touched {
		if at.Before(oldestTime) {
			oldestTime = at
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(mc.items, oldestKey)
		delete(mc.touched, oldestKey)
	}
}

func (mc *MemoryCache) sweepExpired() {
	for range mc.sweep.C {
		mc.mu.Lock()
		now := time.Now()
		for key, item := range mc.items {
			if now.After(item.expireAt) {
				delete(mc.items, key)
				delete(mc.touched, key)
			}
		}
		mc.mu.Unlock()
	}
}
