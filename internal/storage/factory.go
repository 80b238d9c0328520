package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/storage/implementations/memory"
	"github.com/inferloop/aidrin/internal/storage/implementations/redis"
	"github.com/inferloop/aidrin/internal/storage/interfaces"
	"github.com/inferloop/aidrin/pkg/errors"
)

// Cache backend names
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// CacheConfig selects and configures a cache backend
type CacheConfig struct {
	Backend string             `json:"backend" mapstructure:"backend"`
	TTL     time.Duration      `json:"ttl" mapstructure:"ttl"`
	Memory  memory.CacheConfig `json:"memory" mapstructure:"memory"`
	Redis   redis.RedisConfig  `json:"redis" mapstructure:"redis"`
}

// CacheCreateFunc builds a connected backend.
type CacheCreateFunc func(ctx context.Context, config *CacheConfig) (interfaces.Cache, error)

// Factory creates cache backends by name
type Factory struct {
	creators map[string]CacheCreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new storage factory
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]CacheCreateFunc),
		logger:   logger,
	}

	factory.registerDefaults()

	return factory
}

// CreateCache creates and connects the configured backend.
func (f *Factory) CreateCache(ctx context.Context, config *CacheConfig) (interfaces.Cache, error) {
	if config == nil {
		config = &CacheConfig{}
	}
	backend := config.Backend
	if backend == "" {
		backend = BackendMemory
	}

	f.mu.RLock()
	createFunc, exists := f.creators[backend]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewStorageError("UNSUPPORTED_TYPE", fmt.Sprintf("Cache backend '%s' is not supported", backend))
	}

	cache, err := createFunc(ctx, config)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "CREATION_FAILED", fmt.Sprintf("Failed to create %s cache", backend))
	}

	f.logger.WithFields(logrus.Fields{
		"backend": backend,
	}).Info("Created cache backend")

	return cache, nil
}

// GetSupportedTypes returns all supported backends, sorted
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for backend := range f.creators {
		types = append(types, backend)
	}
	sort.Strings(types)

	return types
}

// RegisterCache registers a new backend
func (f *Factory) RegisterCache(backend string, createFunc CacheCreateFunc) error {
	if backend == "" {
		return errors.NewValidationError("INVALID_TYPE", "Cache backend cannot be empty")
	}

	if createFunc == nil {
		return errors.NewValidationError("INVALID_CREATOR", "Cache create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[backend] = createFunc

	f.logger.WithFields(logrus.Fields{
		"backend": backend,
	}).Debug("Registered cache backend")

	return nil
}

// IsSupported checks if a backend is supported
func (f *Factory) IsSupported(backend string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[backend]
	return exists
}

func (f *Factory) registerDefaults() {
	f.RegisterCache(BackendMemory, func(ctx context.Context, config *CacheConfig) (interfaces.Cache, error) {
		memConfig := config.Memory
		return memory.NewCache(&memConfig, f.logger)
	})

	f.RegisterCache(BackendRedis, func(ctx context.Context, config *CacheConfig) (interfaces.Cache, error) {
		redisConfig := config.Redis
		cache, err := redis.NewRedisCache(&redisConfig, f.logger)
		if err != nil {
			return nil, err
		}
		if err := cache.Connect(ctx); err != nil {
			return nil, err
		}
		return cache, nil
	})
}
