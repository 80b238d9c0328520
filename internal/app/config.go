package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inferloop/aidrin/internal/analytics"
	"github.com/inferloop/aidrin/internal/datasource"
	"github.com/inferloop/aidrin/internal/observability/metrics"
	"github.com/inferloop/aidrin/internal/privacy"
	"github.com/inferloop/aidrin/internal/server"
	"github.com/inferloop/aidrin/internal/storage"
	"github.com/inferloop/aidrin/internal/storage/implementations/memory"
	"github.com/inferloop/aidrin/internal/storage/implementations/postgres"
	"github.com/inferloop/aidrin/internal/tasks"
	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. AIDRIN_CACHE_BACKEND.
const EnvPrefix = "AIDRIN"

// Task backends
const (
	TaskBackendMemory = "memory"
	TaskBackendRedis  = "redis"
)

// Config is the complete runtime configuration shared by the binaries.
type Config struct {
	Log     LogConfig                `mapstructure:"log"`
	Server  server.Config            `mapstructure:"server"`
	Metrics metrics.PrometheusConfig `mapstructure:"metrics"`
	Cache   storage.CacheConfig      `mapstructure:"cache"`
	Tasks   TaskConfig               `mapstructure:"tasks"`
	Engine  analytics.EngineConfig   `mapstructure:"engine"`
	Reader  datasource.ReaderConfig  `mapstructure:"reader"`
	S3      datasource.S3Config      `mapstructure:"s3"`
	Archive postgres.ArchiveConfig   `mapstructure:"archive"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TaskConfig configures the task store, queue and processor.
type TaskConfig struct {
	Backend          string                `mapstructure:"backend"`
	EmbedWorker      bool                  `mapstructure:"embed_worker"`
	KeyPrefix        string                `mapstructure:"key_prefix"`
	QueueCapacity    int                   `mapstructure:"queue_capacity"`
	QueuePollTimeout time.Duration         `mapstructure:"queue_poll_timeout"`
	Store            tasks.StoreConfig     `mapstructure:"store"`
	Processor        tasks.ProcessorConfig `mapstructure:"processor"`
}

// SetDefaults registers every key so environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	engine := analytics.DefaultEngineConfig()
	processor := tasks.DefaultProcessorConfig()
	srv := server.DefaultConfig()

	v.SetDefault("log.level", constants.DefaultLogLevel)
	v.SetDefault("log.format", constants.DefaultLogFormat)

	v.SetDefault("server.host", srv.Host)
	v.SetDefault("server.port", srv.Port)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.enable_cors", srv.EnableCORS)
	v.SetDefault("server.max_request_size", srv.MaxRequestSize)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", constants.DefaultMetricsPort)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", constants.AppName)
	v.SetDefault("metrics.subsystem", "")

	v.SetDefault("cache.backend", storage.BackendMemory)
	v.SetDefault("cache.ttl", constants.DefaultCacheTTL)
	v.SetDefault("cache.memory.sweep_schedule", memory.DefaultSweepSchedule)
	v.SetDefault("cache.memory.max_entries", 0)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.dial_timeout", 5*time.Second)
	v.SetDefault("cache.redis.read_timeout", 3*time.Second)
	v.SetDefault("cache.redis.write_timeout", 3*time.Second)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.key_prefix", constants.DefaultCacheKeyPrefix)

	v.SetDefault("tasks.backend", TaskBackendMemory)
	v.SetDefault("tasks.embed_worker", true)
	v.SetDefault("tasks.key_prefix", constants.DefaultCacheKeyPrefix)
	v.SetDefault("tasks.queue_capacity", constants.DefaultQueueCapacity)
	v.SetDefault("tasks.queue_poll_timeout", 5*time.Second)
	v.SetDefault("tasks.store.result_expiry", constants.DefaultResultExpiry)
	v.SetDefault("tasks.store.purge_schedule", "@every 5m")
	v.SetDefault("tasks.processor.concurrency", processor.Concurrency)
	v.SetDefault("tasks.processor.soft_time_limit", processor.SoftTimeLimit)
	v.SetDefault("tasks.processor.hard_time_limit", processor.HardTimeLimit)

	v.SetDefault("engine.display_precision", engine.DisplayPrecision)
	v.SetDefault("engine.max_categorical_cardinality", engine.MaxCategoricalCardinality)
	v.SetDefault("engine.cancel_check_interval", engine.CancelCheckInterval)
	v.SetDefault("engine.quality_policy.max_dropped_fraction", engine.QualityPolicy.MaxDroppedFraction)
	v.SetDefault("engine.quality_policy.mode", string(engine.QualityPolicy.Mode))
	v.SetDefault("engine.render_visualizations", engine.RenderVisualizations)

	v.SetDefault("reader.base_dir", "")
	v.SetDefault("reader.max_bytes", int64(constants.MaxUploadSize))

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", false)
	v.SetDefault("s3.timeout", constants.DefaultStorageTimeout)

	v.SetDefault("archive.dsn", "")
	v.SetDefault("archive.host", "")
	v.SetDefault("archive.port", 5432)
	v.SetDefault("archive.database", constants.AppName)
	v.SetDefault("archive.username", "")
	v.SetDefault("archive.password", "")
	v.SetDefault("archive.ssl_mode", "disable")
	v.SetDefault("archive.max_connections", 10)
	v.SetDefault("archive.max_idle_conns", 2)
	v.SetDefault("archive.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("archive.auto_migrate", true)
}

// NewViper returns a viper instance with defaults and environment overrides
// wired. configFile may be empty.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
				fmt.Sprintf("Failed to read config file %s", configFile))
		}
	}

	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, "Failed to decode configuration")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate normalizes enumerations and rejects unknown backends.
func (c *Config) Validate() error {
	mode, err := privacy.ParseQualityMode(string(c.Engine.QualityPolicy.Mode))
	if err != nil {
		return err
	}
	c.Engine.QualityPolicy.Mode = mode

	if c.Engine.QualityPolicy.MaxDroppedFraction > 1 {
		return errors.NewAppError(errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"engine.quality_policy.max_dropped_fraction must be at most 1")
	}

	switch c.Cache.Backend {
	case storage.BackendMemory, storage.BackendRedis:
	default:
		return errors.NewAppError(errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("unknown cache backend '%s'", c.Cache.Backend))
	}

	switch c.Tasks.Backend {
	case TaskBackendMemory:
		// An in-process queue has no other consumer.
		c.Tasks.EmbedWorker = true
	case TaskBackendRedis:
	default:
		return errors.NewAppError(errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("unknown task backend '%s'", c.Tasks.Backend))
	}

	if c.Engine.DisplayPrecision < 0 {
		return errors.NewAppError(errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"engine.display_precision cannot be negative")
	}

	return nil
}

// ArchiveEnabled reports whether a Postgres archive is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.DSN != "" || c.Archive.Host != ""
}

// S3Enabled reports whether s3:// dataset paths can be fetched.
func (c *Config) S3Enabled() bool {
	return c.S3.Region != "" || c.S3.Endpoint != ""
}
