package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/storage/interfaces"
	"github.com/inferloop/aidrin/pkg/errors"
)

// RedisConfig holds configuration for Redis
type RedisConfig struct {
	Addr          string        `json:"addr" mapstructure:"addr"`
	Password      string        `json:"password" mapstructure:"password"`
	DB            int           `json:"db" mapstructure:"db"`
	DialTimeout   time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	PoolSize      int           `json:"pool_size" mapstructure:"pool_size"`
	MinIdleConns  int           `json:"min_idle_conns" mapstructure:"min_idle_conns"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	IdleTimeout   time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	KeyPrefix     string        `json:"key_prefix" mapstructure:"key_prefix"`
	UseClustering bool          `json:"use_clustering" mapstructure:"use_clustering"`
	ClusterAddrs  []string      `json:"cluster_addrs" mapstructure:"cluster_addrs"`
	ScanCount     int64         `json:"scan_count" mapstructure:"scan_count"`
}

// RedisCache implements interfaces.Cache on Redis. The underlying client is
// shared with the task store and queue.
type RedisCache struct {
	config  *RedisConfig
	client  redis.UniversalClient
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *cacheMetrics
	closed  bool
}

type cacheMetrics struct {
	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	errors    int64
	startTime time.Time
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(config *RedisConfig, logger *logrus.Logger) (*RedisCache, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis config cannot be nil")
	}

	if config.Addr == "" && len(config.ClusterAddrs) == 0 {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis address or cluster addresses are required")
	}

	if config.ScanCount <= 0 {
		config.ScanCount = 100
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &RedisCache{
		config: config,
		logger: logger,
		metrics: &cacheMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect establishes connection to Redis
func (r *RedisCache) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	var client redis.UniversalClient

	if r.config.UseClustering && len(r.config.ClusterAddrs) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        r.config.ClusterAddrs,
			Password:     r.config.Password,
			DialTimeout:  r.config.DialTimeout,
			ReadTimeout:  r.config.ReadTimeout,
			WriteTimeout: r.config.WriteTimeout,
			PoolSize:     r.config.PoolSize,
			MinIdleConns: r.config.MinIdleConns,
			MaxRetries:   r.config.MaxRetries,
			IdleTimeout:  r.config.IdleTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         r.config.Addr,
			Password:     r.config.Password,
			DB:           r.config.DB,
			DialTimeout:  r.config.DialTimeout,
			ReadTimeout:  r.config.ReadTimeout,
			WriteTimeout: r.config.WriteTimeout,
			PoolSize:     r.config.PoolSize,
			MinIdleConns: r.config.MinIdleConns,
			MaxRetries:   r.config.MaxRetries,
			IdleTimeout:  r.config.IdleTimeout,
		})
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to connect to Redis")
	}

	r.client = client
	r.closed = false

	r.logger.WithFields(logrus.Fields{
		"addr":       r.config.Addr,
		"db":         r.config.DB,
		"clustering": r.config.UseClustering,
	}).Info("Connected to Redis")

	return nil
}

// Client returns the connected client for components sharing the
// connection pool.
func (r *RedisCache) Client() (redis.UniversalClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "Redis not connected")
	}
	return r.client, nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		r.closed = true

		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "Failed to close Redis connection")
		}
	}

	r.logger.Info("Redis connection closed")
	return nil
}

// Health pings Redis
func (r *RedisCache) Health(ctx context.Context) error {
	client, err := r.Client()
	if err != nil {
		return err
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "Redis ping failed")
	}
	return nil
}

// Get retrieves a value by key
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	client, err := r.Client()
	if err != nil {
		return nil, err
	}

	value, err := client.Get(ctx, r.generateKey(key)).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&r.metrics.misses, 1)
		return nil, errors.ErrCacheMiss
	}
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "Failed to read cache entry")
	}

	atomic.AddInt64(&r.metrics.hits, 1)
	return value, nil
}

// Set stores a value with SET ... EX
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	client, err := r.Client()
	if err != nil {
		return err
	}

	if err := client.Set(ctx, r.generateKey(key), value, ttl).Err(); err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write cache entry")
	}

	atomic.AddInt64(&r.metrics.sets, 1)
	return nil
}

// Delete removes keys
func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	client, err := r.Client()
	if err != nil {
		return err
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.generateKey(k)
	}

	deleted, err := client.Del(ctx, prefixed...).Result()
	if err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "DELETE_FAILED", "Failed to delete cache entries")
	}

	atomic.AddInt64(&r.metrics.deletes, deleted)
	return nil
}

// Expire resets the TTL of an existing key
func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	client, err := r.Client()
	if err != nil {
		return err
	}

	ok, err := client.Expire(ctx, r.generateKey(key), ttl).Result()
	if err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to refresh cache entry")
	}
	if !ok {
		return errors.ErrCacheMiss
	}
	return nil
}

// Keys scans for keys with the given prefix. Returned keys have the
// configured key prefix removed.
func (r *RedisCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	client, err := r.Client()
	if err != nil {
		return nil, err
	}

	match := r.generateKey(prefix) + "*"
	var keys []string
	var cursor uint64

	for {
		batch, next, err := client.Scan(ctx, cursor, match, r.config.ScanCount).Result()
		if err != nil {
			r.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "SCAN_FAILED", "Failed to scan cache keys")
		}
		for _, k := range batch {
			keys = append(keys, r.stripPrefix(k))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Stats returns counters collected by this instance plus the key count
// under the configured prefix.
func (r *RedisCache) Stats(ctx context.Context) (*interfaces.CacheStats, error) {
	stats := &interfaces.CacheStats{
		Backend: "redis",
		Hits:    atomic.LoadInt64(&r.metrics.hits),
		Misses:  atomic.LoadInt64(&r.metrics.misses),
		Sets:    atomic.LoadInt64(&r.metrics.sets),
		Deletes: atomic.LoadInt64(&r.metrics.deletes),
		Errors:  atomic.LoadInt64(&r.metrics.errors),
		Uptime:  time.Since(r.metrics.startTime),
	}
	stats.ComputeHitRate()

	keys, err := r.Keys(ctx, "")
	if err != nil {
		return stats, err
	}
	stats.KeyCount = int64(len(keys))
	return stats, nil
}

// Helper methods

func (r *RedisCache) generateKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}

func (r *RedisCache) stripPrefix(key string) string {
	if r.config.KeyPrefix != "" {
		return strings.TrimPrefix(key, r.config.KeyPrefix+":")
	}
	return key
}

func (r *RedisCache) incrementErrorCount() {
	atomic.AddInt64(&r.metrics.errors, 1)
}
