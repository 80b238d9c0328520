package app

import (
	"context"
	"os"

	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/analytics"
	"github.com/inferloop/aidrin/internal/api/handlers"
	"github.com/inferloop/aidrin/internal/datasource"
	"github.com/inferloop/aidrin/internal/observability/metrics"
	"github.com/inferloop/aidrin/internal/storage"
	"github.com/inferloop/aidrin/internal/storage/implementations/postgres"
	rediscache "github.com/inferloop/aidrin/internal/storage/implementations/redis"
	"github.com/inferloop/aidrin/internal/storage/interfaces"
	"github.com/inferloop/aidrin/internal/tasks"
)

// Components are the long-lived collaborators built from a Config.
type Components struct {
	Config      *Config
	Metrics     *metrics.PrometheusMetrics
	Backend     interfaces.Cache
	ResultCache *storage.ResultCache
	Store       tasks.Store
	Queue       tasks.Queue
	Reader      *datasource.Reader
	Engine      *analytics.Engine
	Archive     *postgres.ReportArchive
	Manager     *tasks.Manager

	logger    *logrus.Logger
	taskRedis *rediscache.RedisCache
	closers   []func() error
}

// Build connects every backend named by config. On error the components
// created so far are closed.
func Build(ctx context.Context, config *Config, logger *logrus.Logger) (*Components, error) {
	if logger == nil {
		logger = logrus.New()
	}

	c := &Components{Config: config, logger: logger}
	if err := c.build(ctx); err != nil {
		c.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"cache_backend": config.Cache.Backend,
		"task_backend":  config.Tasks.Backend,
		"archive":       config.ArchiveEnabled(),
		"s3":            config.S3Enabled(),
	}).Info("Components initialized")

	return c, nil
}

func (c *Components) build(ctx context.Context) error {
	config := c.Config
	logger := c.logger

	metricsConfig := config.Metrics
	pm, err := metrics.NewPrometheusMetrics(&metricsConfig, logger)
	if err != nil {
		return err
	}
	c.Metrics = pm

	backend, err := storage.NewFactory(logger).CreateCache(ctx, &config.Cache)
	if err != nil {
		return err
	}
	c.Backend = backend
	c.closers = append(c.closers, backend.Close)

	c.ResultCache = storage.NewResultCache(backend, &storage.ResultCacheConfig{TTL: config.Cache.TTL}, logger,
		storage.WithCacheRecorder(pm))

	if err := c.buildTasks(ctx); err != nil {
		return err
	}

	var fetcher datasource.ObjectFetcher
	if config.S3Enabled() {
		s3Config := config.S3
		s3Fetcher, err := datasource.NewS3Fetcher(&s3Config, logger)
		if err != nil {
			return err
		}
		fetcher = s3Fetcher
	}
	readerConfig := config.Reader
	c.Reader = datasource.NewReader(&readerConfig, fetcher, logger)

	engineConfig := config.Engine
	c.Engine = analytics.NewEngine(&engineConfig, logger, analytics.WithMetrics(pm))

	if config.ArchiveEnabled() {
		archiveConfig := config.Archive
		archive, err := postgres.NewReportArchive(&archiveConfig, logger)
		if err != nil {
			return err
		}
		if err := archive.Connect(ctx); err != nil {
			return err
		}
		c.Archive = archive
		c.closers = append(c.closers, archive.Close)
	}

	c.Manager = tasks.NewManager(c.Store, c.Queue, c.ResultCache, logger)
	return nil
}

func (c *Components) buildTasks(ctx context.Context) error {
	config := c.Config.Tasks

	if config.Backend == TaskBackendMemory {
		store, err := tasks.NewMemoryStore(&config.Store, c.logger)
		if err != nil {
			return err
		}
		c.Store = store
		c.closers = append(c.closers, store.Close)

		queue := tasks.NewChannelQueue(config.QueueCapacity)
		c.Queue = queue
		c.closers = append(c.closers, queue.Close)
		return nil
	}

	client, err := c.redisClient(ctx)
	if err != nil {
		return err
	}
	c.Store = tasks.NewRedisStore(client, config.KeyPrefix, &config.Store, c.logger)

	queue := tasks.NewRedisQueue(client, config.KeyPrefix, config.QueuePollTimeout, c.logger)
	c.Queue = queue
	c.closers = append(c.closers, queue.Close)
	return nil
}

// redisClient shares the cache's connection pool when the cache is on Redis
// too, otherwise it opens a pool from the same Redis settings.
func (c *Components) redisClient(ctx context.Context) (goredis.UniversalClient, error) {
	if shared, ok := c.Backend.(*rediscache.RedisCache); ok {
		return shared.Client()
	}

	redisConfig := c.Config.Cache.Redis
	cache, err := rediscache.NewRedisCache(&redisConfig, c.logger)
	if err != nil {
		return nil, err
	}
	if err := cache.Connect(ctx); err != nil {
		return nil, err
	}
	c.taskRedis = cache
	c.closers = append(c.closers, cache.Close)
	return cache.Client()
}

// NewProcessor builds a task processor over the shared store and queue.
func (c *Components) NewProcessor() *tasks.Processor {
	opts := []tasks.ProcessorOption{
		tasks.WithResultCache(c.ResultCache),
		tasks.WithTaskRecorder(c.Metrics),
	}
	if c.Archive != nil {
		opts = append(opts, tasks.WithArchiver(c.Archive))
	}

	processorConfig := c.Config.Tasks.Processor
	return tasks.NewProcessor(&processorConfig, c.Store, c.Queue, c.Reader, c.Engine, c.logger, opts...)
}

// RegisterHealthChecks adds one readiness probe per connected backend.
func (c *Components) RegisterHealthChecks(h *handlers.HealthHandler) {
	h.AddCheck("cache", c.ResultCache.Health)
	h.AddCheck("queue", func(ctx context.Context) error {
		_, err := c.Queue.Len(ctx)
		return err
	})
	if c.taskRedis != nil {
		h.AddCheck("task_store", c.taskRedis.Health)
	}
	if c.Archive != nil {
		h.AddCheck("archive", c.Archive.Ping)
	}
}

// Close releases backends in reverse order of creation.
func (c *Components) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.WithError(err).Warn("Error closing component")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.closers = nil
	return firstErr
}

// SetupLogger configures a logrus logger from the log section.
func SetupLogger(config LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	logLevel, err := logrus.ParseLevel(config.Level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
