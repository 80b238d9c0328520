package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/inferloop/aidrin/internal/app"
	"github.com/inferloop/aidrin/pkg/constants"
)

// Flags holds the options that are not part of the runtime configuration.
type Flags struct {
	ConfigFile string
	Version    bool
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"port":                 "server.port",
	"host":                 "server.host",
	"log-level":            "log.level",
	"log-format":           "log.format",
	"metrics-port":         "metrics.port",
	"cache-backend":        "cache.backend",
	"redis-addr":           "cache.redis.addr",
	"task-backend":         "tasks.backend",
	"embed-worker":         "tasks.embed_worker",
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
	"tls-cert":             "server.tls_cert_file",
	"tls-key":              "server.tls_key_file",
}

// ParseFlags parses args and returns a viper instance layering flags over
// environment, config file and defaults.
func ParseFlags(args []string) (*Flags, *viper.Viper, error) {
	flags := &Flags{}
	fs := pflag.NewFlagSet("aidrin-server", pflag.ContinueOnError)

	fs.StringVar(&flags.ConfigFile, "config", "", "Path to configuration file")
	fs.BoolVar(&flags.Version, "version", false, "Show version information")

	fs.Int("port", constants.DefaultPort, "Server port")
	fs.String("host", constants.DefaultHost, "Server host")
	fs.String("log-level", constants.DefaultLogLevel, "Log level (debug, info, warn, error)")
	fs.String("log-format", constants.DefaultLogFormat, "Log format (json, text)")
	fs.Int("metrics-port", constants.DefaultMetricsPort, "Prometheus metrics port")
	fs.String("cache-backend", "memory", "Result cache backend (memory, redis)")
	fs.String("redis-addr", "localhost:6379", "Redis address for the cache and task queue")
	fs.String("task-backend", app.TaskBackendMemory, "Task store and queue backend (memory, redis)")
	fs.Bool("embed-worker", true, "Process tasks inside the server")
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
	fs.String("tls-cert", "", "Path to TLS certificate")
	fs.String("tls-key", "", "Path to TLS key")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: aidrin-server [options]\n")
		fmt.Fprintf(os.Stderr, "\n%s\n\n", constants.AppDescription)
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	v, err := app.NewViper(flags.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, nil, err
		}
	}

	return flags, v, nil
}
