package cache

import "time"

// BytesCache caches raw response bodies with a TTL. The handlers store
// already-marshaled JSON so a hit skips both the query and encoding.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}
