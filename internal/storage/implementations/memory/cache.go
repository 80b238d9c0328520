package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/storage/interfaces"
	"github.com/inferloop/aidrin/pkg/errors"
)

// DefaultSweepSchedule runs the expiry sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// CacheConfig configures the in-process cache
type CacheConfig struct {
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
	MaxEntries    int    `json:"max_entries" mapstructure:"max_entries"`
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is a mutex-guarded map with lazy expiry on read and a periodic
// sweep of expired entries.
type Cache struct {
	config  *CacheConfig
	logger  *logrus.Logger
	entries map[string]*entry
	mu      sync.RWMutex
	cron    *cron.Cron
	now     func() time.Time
	stats   interfaces.CacheStats
	started time.Time
	closed  bool
}

// NewCache creates the cache and starts its sweep job.
func NewCache(config *CacheConfig, logger *logrus.Logger) (*Cache, error) {
	if config == nil {
		config = &CacheConfig{}
	}
	if config.SweepSchedule == "" {
		config.SweepSchedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &Cache{
		config:  config,
		logger:  logger,
		entries: make(map[string]*entry),
		cron:    cron.New(),
		now:     time.Now,
		started: time.Now(),
	}
	c.stats.Backend = "memory"

	if _, err := c.cron.AddFunc(config.SweepSchedule, func() { c.Sweep() }); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"Invalid cache sweep schedule")
	}
	c.cron.Start()

	return c, nil
}

// Get retrieves a value by key
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired(c.now()) {
		if ok {
			delete(c.entries, key)
			c.stats.Evictions++
		}
		c.stats.Misses++
		return nil, errors.ErrCacheMiss
	}

	c.stats.Hits++
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a value. A ttl of zero never expires.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.NewStorageError(errors.CodeNotConnected, "Memory cache is closed")
	}

	if _, exists := c.entries[key]; !exists && c.config.MaxEntries > 0 && len(c.entries) >= c.config.MaxEntries {
		c.evictOldest()
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	e := &entry{value: stored}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	c.stats.Sets++
	return nil
}

// Delete removes keys
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			c.stats.Deletes++
		}
	}
	return nil
}

// Expire resets the TTL of an existing key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired(c.now()) {
		return errors.ErrCacheMiss
	}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

// Keys returns the live keys with the given prefix.
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	var keys []string
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) && !e.expired(now) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Stats returns cache statistics
func (c *Cache) Stats(ctx context.Context) (*interfaces.CacheStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.KeyCount = int64(len(c.entries))
	stats.Uptime = time.Since(c.started)
	stats.ComputeHitRate()
	return &stats, nil
}

// Health checks cache health
func (c *Cache) Health(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errors.NewStorageError(errors.CodeNotConnected, "Memory cache is closed")
	}
	return nil
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.stats.Evictions += int64(removed)

	if removed > 0 {
		c.logger.WithField("removed", removed).Debug("Swept expired cache entries")
	}
	return removed
}

// Close stops the sweep job and drops all entries.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	<-c.cron.Stop().Done()
	return nil
}

// evictOldest drops the entry closest to expiry. Caller holds the lock.
func (c *Cache) evictOldest() {
	var victim string
	var soonest time.Time
	for key, e := range c.entries {
		if victim == "" || (!e.expiresAt.IsZero() && (soonest.IsZero() || e.expiresAt.Before(soonest))) {
			victim = key
			soonest = e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		c.stats.Evictions++
	}
}
