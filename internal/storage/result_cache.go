package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/storage/interfaces"
	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

const resultKeyPrefix = "result"

// CacheRecorder receives hit/miss counts.
type CacheRecorder interface {
	RecordCacheRequest(result string)
}

// ResultCacheConfig configures the report cache
type ResultCacheConfig struct {
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`
}

// ScopeStats describes the cache from one user's point of view.
type ScopeStats struct {
	Scope   string                 `json:"scope"`
	Entries int                    `json:"entries"`
	TTL     string                 `json:"ttl"`
	Backend *interfaces.CacheStats `json:"backend"`
}

// ResultCache stores successful reports by fingerprint with a sliding TTL.
type ResultCache struct {
	cache    interfaces.Cache
	ttl      time.Duration
	logger   *logrus.Logger
	recorder CacheRecorder
}

// ResultCacheOption customizes a ResultCache.
type ResultCacheOption func(*ResultCache)

// WithCacheRecorder reports hits and misses to r.
func WithCacheRecorder(r CacheRecorder) ResultCacheOption {
	return func(c *ResultCache) {
		c.recorder = r
	}
}

// NewResultCache wraps a cache backend.
func NewResultCache(cache interfaces.Cache, config *ResultCacheConfig, logger *logrus.Logger, opts ...ResultCacheOption) *ResultCache {
	ttl := constants.DefaultCacheTTL
	if config != nil && config.TTL > 0 {
		ttl = config.TTL
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &ResultCache{
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached report and refreshes its TTL. A miss returns
// (nil, false, nil).
func (c *ResultCache) Get(ctx context.Context, scope, fingerprint string) (*models.RiskReport, bool, error) {
	key := resultKey(scope, fingerprint)

	raw, err := c.cache.Get(ctx, key)
	if stderrors.Is(err, errors.ErrCacheMiss) {
		c.record("miss")
		return nil, false, nil
	}
	if err != nil {
		c.record("error")
		return nil, false, err
	}

	var report models.RiskReport
	if err := json.Unmarshal(raw, &report); err != nil {
		// unreadable entries are dropped and treated as a miss
		c.logger.WithError(err).WithField("key", key).Warn("Discarding corrupt cache entry")
		_ = c.cache.Delete(ctx, key)
		c.record("miss")
		return nil, false, nil
	}

	if err := c.cache.Expire(ctx, key, c.ttl); err != nil && !stderrors.Is(err, errors.ErrCacheMiss) {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to refresh cache TTL")
	}

	c.record("hit")
	return &report, true, nil
}

// Put stores a report. Failed reports are never cached.
func (c *ResultCache) Put(ctx context.Context, scope, fingerprint string, report *models.RiskReport) error {
	if report == nil || report.Failed() {
		return nil
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to encode report")
	}

	return c.cache.Set(ctx, resultKey(scope, fingerprint), raw, c.ttl)
}

// ClearScope deletes every entry belonging to scope and returns the count.
func (c *ResultCache) ClearScope(ctx context.Context, scope string) (int, error) {
	keys, err := c.cache.Keys(ctx, scopePrefix(scope))
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := c.cache.Delete(ctx, keys...); err != nil {
		return 0, err
	}

	c.logger.WithFields(logrus.Fields{
		"scope":   normalizeScope(scope),
		"deleted": len(keys),
	}).Info("Cleared cached results")

	return len(keys), nil
}

// Stats reports the entry count for scope plus backend counters.
func (c *ResultCache) Stats(ctx context.Context, scope string) (*ScopeStats, error) {
	keys, err := c.cache.Keys(ctx, scopePrefix(scope))
	if err != nil {
		return nil, err
	}

	backend, err := c.cache.Stats(ctx)
	if err != nil {
		return nil, err
	}

	return &ScopeStats{
		Scope:   normalizeScope(scope),
		Entries: len(keys),
		TTL:     c.ttl.String(),
		Backend: backend,
	}, nil
}

// Health checks the backend.
func (c *ResultCache) Health(ctx context.Context) error {
	return c.cache.Health(ctx)
}

func (c *ResultCache) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordCacheRequest(result)
	}
}

func scopePrefix(scope string) string {
	return fmt.Sprintf("%s:%s:", resultKeyPrefix, normalizeScope(scope))
}

func resultKey(scope, fingerprint string) string {
	return scopePrefix(scope) + fingerprint
}
