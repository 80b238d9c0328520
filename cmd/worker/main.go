package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/inferloop/aidrin/internal/app"
	"github.com/inferloop/aidrin/pkg/constants"
)

// WorkerFlags holds the options that are not part of the runtime configuration.
type WorkerFlags struct {
	WorkerID        string
	ConfigFile      string
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration
}

type activeCounter interface {
	ActiveTasks() int32
}

var shutdownPollInterval = time.Second

var workerFlagKeys = map[string]string{
	"log-level":            "log.level",
	"log-format":           "log.format",
	"metrics-port":         "metrics.port",
	"redis-addr":           "cache.redis.addr",
	"cache-backend":        "cache.backend",
	"concurrency":          "tasks.processor.concurrency",
	"soft-time-limit":      "tasks.processor.soft_time_limit",
	"hard-time-limit":      "tasks.processor.hard_time_limit",
	"postgres-dsn":         "archive.dsn",
	"s3-region":            "s3.region",
	"s3-endpoint":          "s3.endpoint",
	"data-dir":             "reader.base_dir",
	"display-precision":    "engine.display_precision",
	"max-dropped-fraction": "engine.quality_policy.max_dropped_fraction",
	"quality-mode":         "engine.quality_policy.mode",
}

func main() {
	flags, v, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logrus.WithError(err).Fatal("Invalid arguments")
	}

	config, err := app.Load(v)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logger := app.SetupLogger(config.Log)

	logger.WithFields(logrus.Fields{
		"workerID":    flags.WorkerID,
		"concurrency": config.Tasks.Processor.Concurrency,
		"redisAddr":   config.Cache.Redis.Addr,
	}).Info("Starting AIDRIN privacy-risk worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	comps, err := app.Build(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize components")
	}
	defer comps.Close()

	if err := comps.Metrics.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start metrics server")
	}

	processor := comps.NewProcessor()
	go processor.Start(ctx)

	// Monitor worker health
	go func() {
		ticker := time.NewTicker(flags.HealthInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := comps.Queue.Len(ctx)
				entry := logger.WithFields(logrus.Fields{
					"activeTasks":    processor.ActiveTasks(),
					"completedTasks": processor.CompletedTasks(),
					"failedTasks":    processor.FailedTasks(),
					"queueDepth":     depth,
				})
				if err != nil {
					entry.WithError(err).Warn("Worker health check failed")
					continue
				}
				entry.Debug("Worker health check")
			}
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), flags.ShutdownTimeout)
	defer shutdownCancel()

	if err := gracefulShutdown(shutdownCtx, cancel, processor, logger); err != nil {
		logger.WithError(err).Error("Worker shutdown failed")
		comps.Close()
		os.Exit(1)
	}

	if err := comps.Metrics.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Metrics server shutdown failed")
	}

	logger.Info("Worker stopped successfully")
}

// parseFlags binds the worker flags over environment, config file and
// defaults. The worker always consumes the shared Redis queue.
func parseFlags(args []string) (*WorkerFlags, *viper.Viper, error) {
	flags := &WorkerFlags{}
	fs := pflag.NewFlagSet("aidrin-worker", pflag.ContinueOnError)

	fs.StringVar(&flags.WorkerID, "worker-id", generateWorkerID(), "Unique worker ID")
	fs.StringVar(&flags.ConfigFile, "config", "", "Path to configuration file")
	fs.DurationVar(&flags.HealthInterval, "health-interval", 30*time.Second, "Interval between health log lines")
	fs.DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", constants.DefaultShutdownTimeout, "Time to wait for running tasks on shutdown")

	fs.String("log-level", constants.DefaultLogLevel, "Log level")
	fs.String("log-format", constants.DefaultLogFormat, "Log format")
	fs.Int("metrics-port", constants.DefaultMetricsPort, "Prometheus metrics port")
	fs.String("redis-addr", "localhost:6379", "Redis address of the task queue")
	fs.String("cache-backend", "redis", "Result cache backend (memory, redis)")
	fs.Int("concurrency", constants.DefaultWorkerConcurrency, "Number of concurrent tasks")
	fs.Duration("soft-time-limit", constants.DefaultTaskSoftTimeLimit, "Task soft time limit")
	fs.Duration("hard-time-limit", constants.DefaultTaskHardTimeLimit, "Task hard time limit")
	fs.String("postgres-dsn", "", "Postgres DSN of the report archive (disabled when empty)")
	fs.String("s3-region", "", "AWS region for s3:// datasets")
	fs.String("s3-endpoint", "", "S3-compatible endpoint for s3:// datasets")
	fs.String("data-dir", "", "Directory relative dataset paths resolve against")
	fs.Int("display-precision", constants.DefaultDisplayPrecision, "Decimal places in report text")
	fs.Float64("max-dropped-fraction", constants.DefaultMaxDroppedFraction, "Largest fraction of rows dropped for missing values before the quality policy applies")
	fs.String("quality-mode", "warn", "Data quality policy mode (warn, fail)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if flags.HealthInterval <= 0 {
		return nil, nil, fmt.Errorf("health-interval must be positive")
	}

	v, err := app.NewViper(flags.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	for name, key := range workerFlagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, nil, err
		}
	}
	// Results must be visible to the server that polls for them.
	if !fs.Changed("cache-backend") {
		v.SetDefault("cache.backend", "redis")
	}
	v.Set("tasks.backend", app.TaskBackendRedis)
	v.Set("tasks.embed_worker", false)

	return flags, v, nil
}

func generateWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// gracefulShutdown stops dequeuing and waits until no task is running.
func gracefulShutdown(ctx context.Context, stop context.CancelFunc, processor activeCounter, logger *logrus.Logger) error {
	logger.Info("Starting graceful shutdown")

	// Stop accepting new tasks
	stop()

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	for {
		if processor.ActiveTasks() == 0 {
			logger.Info("All tasks completed")
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout exceeded with %d tasks running", processor.ActiveTasks())
		case <-ticker.C:
			logger.WithField("activeTasks", processor.ActiveTasks()).Info("Waiting for tasks to complete")
		}
	}
}
