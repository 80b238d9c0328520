package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/inferloop/aidrin/internal/datasource"
	"github.com/inferloop/aidrin/internal/storage/implementations/postgres"
	"github.com/inferloop/aidrin/pkg/constants"
)

type CLIConfig struct {
	DefaultFormat    string                 `mapstructure:"default_format"`
	DataDir          string                 `mapstructure:"data_dir"`
	DisplayPrecision int                    `mapstructure:"display_precision"`
	Quality          QualityConfig          `mapstructure:"quality"`
	S3               datasource.S3Config    `mapstructure:"s3"`
	Archive          postgres.ArchiveConfig `mapstructure:"archive"`
	Preferences      Preferences            `mapstructure:"preferences"`
}

type QualityConfig struct {
	MaxDroppedFraction float64 `mapstructure:"max_dropped_fraction"`
	Mode               string  `mapstructure:"mode"`
}

type Preferences struct {
	ProgressBars bool   `mapstructure:"progress_bars"`
	LogLevel     string `mapstructure:"log_level"`
}

// DefaultConfig is the configuration used when no file is present.
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		DefaultFormat:    "text",
		DisplayPrecision: constants.DefaultDisplayPrecision,
		Quality: QualityConfig{
			MaxDroppedFraction: constants.DefaultMaxDroppedFraction,
			Mode:               "warn",
		},
		Archive: postgres.ArchiveConfig{
			Port:    5432,
			SSLMode: "disable",
		},
		Preferences: Preferences{
			ProgressBars: true,
			LogLevel:     "warn",
		},
	}
}

func LoadConfig(cfgFile string) (*CLIConfig, error) {
	config := DefaultConfig()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		configPath := filepath.Join(home, "."+constants.AppName)
		v.AddConfigPath(configPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AIDRIN")
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("default_format", config.DefaultFormat)
	v.SetDefault("data_dir", config.DataDir)
	v.SetDefault("display_precision", config.DisplayPrecision)
	v.SetDefault("quality.max_dropped_fraction", config.Quality.MaxDroppedFraction)
	v.SetDefault("quality.mode", config.Quality.Mode)
	v.SetDefault("archive.port", config.Archive.Port)
	v.SetDefault("archive.ssl_mode", config.Archive.SSLMode)
	v.SetDefault("preferences.progress_bars", config.Preferences.ProgressBars)
	v.SetDefault("preferences.log_level", config.Preferences.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return config, nil
}

func SaveConfig(config *CLIConfig, cfgFile string) error {
	if cfgFile == "" {
		configDir := filepath.Dir(GetDefaultConfigPath())
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}

		cfgFile = GetDefaultConfigPath()
	}

	v := viper.New()
	v.Set("default_format", config.DefaultFormat)
	v.Set("data_dir", config.DataDir)
	v.Set("display_precision", config.DisplayPrecision)
	v.Set("quality.max_dropped_fraction", config.Quality.MaxDroppedFraction)
	v.Set("quality.mode", config.Quality.Mode)
	v.Set("preferences.progress_bars", config.Preferences.ProgressBars)
	v.Set("preferences.log_level", config.Preferences.LogLevel)
	if config.S3.Region != "" || config.S3.Endpoint != "" {
		v.Set("s3.region", config.S3.Region)
		v.Set("s3.endpoint", config.S3.Endpoint)
	}
	if config.Archive.DSN != "" {
		v.Set("archive.dsn", config.Archive.DSN)
	}

	return v.WriteConfigAs(cfgFile)
}

func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+constants.AppName, "config.yaml")
}
