package interfaces

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations
type Cache interface {
	// Get retrieves a value by key. A missing key returns errors.ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with optional TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys
	Delete(ctx context.Context, keys ...string) error

	// Expire sets TTL for an existing key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Keys returns all keys with the given prefix
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Stats returns cache statistics
	Stats(ctx context.Context) (*CacheStats, error)

	// Health checks cache health
	Health(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// CacheStats contains cache performance statistics
type CacheStats struct {
	Backend   string        `json:"backend"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Sets      int64         `json:"sets"`
	Deletes   int64         `json:"deletes"`
	Evictions int64         `json:"evictions"`
	Errors    int64         `json:"errors"`
	KeyCount  int64         `json:"key_count"`
	Uptime    time.Duration `json:"uptime"`
	HitRate   float64       `json:"hit_rate"`
}

// ComputeHitRate fills HitRate from Hits and Misses.
func (s *CacheStats) ComputeHitRate() {
	total := s.Hits + s.Misses
	if total == 0 {
		s.HitRate = 0
		return
	}
	s.HitRate = float64(s.Hits) / float64(total)
}
