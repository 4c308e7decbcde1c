// Package config loads engine configuration from a YAML file and the
// environment. Environment variables use the NAKALA_ prefix and override
// file values, so NAKALA_DATABASE_DSN beats database.dsn in nakala.yaml.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// DatabaseConfig selects and parameterizes the SQL backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	// DSN is the driver connection string. For sqlite this is a file
	// path or ":memory:".
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `mapstructure:"development"`
}

// EngineConfig holds document-engine defaults.
type EngineConfig struct {
	// DefaultLocale is assumed when a request carries no locale.
	DefaultLocale string `mapstructure:"default_locale"`
	// StreamBatchSize is the page size for streamed reads.
	StreamBatchSize int `mapstructure:"stream_batch_size"`
}

// Load reads configuration from the given file path; an empty path falls
// back to nakala.yaml in the working directory, and with the fallback a
// missing file is not an error since defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ":memory:")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("engine.default_locale", "en")
	v.SetDefault("engine.stream_batch_size", 500)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nakala")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("NAKALA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	return &cfg, nil
}
