package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `json:"api" mapstructure:"api"`

	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent"`
	TokenFile  string        `json:"token_file" mapstructure:"token_file"`
}

// StorageConfig for local data paths.
type StorageConfig struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"` // Base directory for all data
	StoreDB string `json:"store_db" mapstructure:"store_db"` // SQLite entity store path
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	BatchSize         int           `json:"batch_size" mapstructure:"batch_size"`                 // Remote delta page size
	MaxConcurrent     int           `json:"max_concurrent" mapstructure:"max_concurrent"`         // Parallel entity application
	RetryAttempts     int           `json:"retry_attempts" mapstructure:"retry_attempts"`         // Max retries per task
	RetryDelay        time.Duration `json:"retry_delay" mapstructure:"retry_delay"`               // Initial retry delay
	Strategy          string        `json:"strategy" mapstructure:"strategy"`                     // Conflict resolution strategy
	TimestampWindow   time.Duration `json:"timestamp_window" mapstructure:"timestamp_window"`     // Conflict proximity heuristic
	ValidateIntegrity bool          `json:"validate_integrity" mapstructure:"validate_integrity"` // Post-cycle aggregate check
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stdout)
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".pagesync"

	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.pagesmith.dev",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			UserAgent:  "pagesync/1.0",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			StoreDB: filepath.Join(dataDir, "store.db"),
		},
		Sync: SyncConfig{
			BatchSize:         100,
			MaxConcurrent:     5,
			RetryAttempts:     3,
			RetryDelay:        time.Second,
			Strategy:          "merge",
			TimestampWindow:   time.Second,
			ValidateIntegrity: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.Sync.BatchSize <= 0 {
		return errors.New("sync.batch_size must be positive")
	}

	if c.Sync.MaxConcurrent <= 0 {
		return errors.New("sync.max_concurrent must be positive")
	}

	if c.Sync.RetryAttempts < 0 {
		return errors.New("sync.retry_attempts cannot be negative")
	}

	if c.Sync.TimestampWindow < 0 {
		return errors.New("sync.timestamp_window cannot be negative")
	}

	validStrategies := map[string]bool{
		"local_wins": true, "remote_wins": true, "merge": true,
		"timestamp": true, "manual": true,
	}
	if !validStrategies[c.Sync.Strategy] {
		return fmt.Errorf("invalid conflict strategy: %s", c.Sync.Strategy)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.Storage.StoreDB),
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
