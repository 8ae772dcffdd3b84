package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from file and environment.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty configPath searches the
// default locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		v:          viper.New(),
	}
}

// Load reads configuration, layering file values and PAGESYNC_* environment
// variables over the defaults.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.v.SetEnvPrefix("PAGESYNC")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
	} else {
		l.v.SetConfigName("pagesync")
		l.v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(homeDir, ".config", "pagesync"))
			l.v.AddConfigPath(filepath.Join(homeDir, ".pagesync"))
		}
	}

	l.bindDefaults(cfg)

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No file found in the default locations; defaults plus env apply.
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// bindDefaults registers defaults with viper so env-only overrides work
// without a config file.
func (l *Loader) bindDefaults(cfg *Config) {
	l.v.SetDefault("api.base_url", cfg.API.BaseURL)
	l.v.SetDefault("api.timeout", cfg.API.Timeout)
	l.v.SetDefault("api.max_retries", cfg.API.MaxRetries)
	l.v.SetDefault("api.user_agent", cfg.API.UserAgent)
	l.v.SetDefault("api.token_file", cfg.API.TokenFile)
	l.v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	l.v.SetDefault("storage.store_db", cfg.Storage.StoreDB)
	l.v.SetDefault("sync.batch_size", cfg.Sync.BatchSize)
	l.v.SetDefault("sync.max_concurrent", cfg.Sync.MaxConcurrent)
	l.v.SetDefault("sync.retry_attempts", cfg.Sync.RetryAttempts)
	l.v.SetDefault("sync.retry_delay", cfg.Sync.RetryDelay)
	l.v.SetDefault("sync.strategy", cfg.Sync.Strategy)
	l.v.SetDefault("sync.timestamp_window", cfg.Sync.TimestampWindow)
	l.v.SetDefault("sync.validate_integrity", cfg.Sync.ValidateIntegrity)
	l.v.SetDefault("log.level", cfg.Log.Level)
	l.v.SetDefault("log.format", cfg.Log.Format)
	l.v.SetDefault("log.file", cfg.Log.File)
}
