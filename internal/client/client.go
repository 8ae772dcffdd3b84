package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pagesmith/pagesync/internal/config"
	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/services/sync"
	"github.com/pagesmith/pagesync/internal/store"
	"github.com/pagesmith/pagesync/internal/transport"
)

// Client provides the high-level API for pagesync operations.
type Client struct {
	Sync   *sync.Service
	Events *events.Bus

	config    *config.Config
	logger    *events.Logger
	transport transport.Transport
	store     store.Store
	tokenFile string
}

// New creates a new pagesync client.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare data directories: %w", err)
	}

	transportClient := transport.New(&cfg.API, logger)

	entityStore, err := store.NewSQLiteStore(cfg.Storage.StoreDB, logger)
	if err != nil {
		return nil, fmt.Errorf("open entity store: %w", err)
	}

	tokenFile := expandPath(cfg.API.TokenFile)
	if tokenFile == "" {
		tokenFile = filepath.Join(cfg.Storage.DataDir, "token")
	}
	if token, err := os.ReadFile(tokenFile); err == nil {
		transportClient.SetToken(strings.TrimSpace(string(token)))
	}

	bus := events.NewBus(logger)

	syncConfig := &sync.Config{
		BatchSize:         cfg.Sync.BatchSize,
		MaxConcurrent:     cfg.Sync.MaxConcurrent,
		RetryAttempts:     cfg.Sync.RetryAttempts,
		RetryDelay:        cfg.Sync.RetryDelay,
		Strategy:          models.ResolutionStrategy(cfg.Sync.Strategy),
		TimestampWindow:   cfg.Sync.TimestampWindow,
		ValidateIntegrity: cfg.Sync.ValidateIntegrity,
	}
	syncService := sync.NewService(transportClient, entityStore, bus, syncConfig, logger)

	return &Client{
		Sync:      syncService,
		Events:    bus,
		config:    cfg,
		logger:    logger,
		transport: transportClient,
		store:     entityStore,
		tokenFile: tokenFile,
	}, nil
}

// Authenticated reports whether an API token is set.
func (c *Client) Authenticated() bool {
	return c.transport.GetToken() != ""
}

// SaveToken persists the API token and activates it on the transport.
func (c *Client) SaveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(c.tokenFile), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(c.tokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	c.transport.SetToken(token)
	return nil
}

// Store exposes the entity store for inspection commands.
func (c *Client) Store() store.Store {
	return c.store
}

// Config returns the active configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// Close releases the client's resources.
func (c *Client) Close() error {
	c.Events.Close()
	if err := c.transport.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close transport")
	}
	return c.store.Close()
}

// expandPath resolves a leading tilde against the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
