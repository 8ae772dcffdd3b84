// Package transport talks to the remote sync service.
package transport

import (
	"context"
	"time"

	"github.com/pagesmith/pagesync/internal/config"
	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
)

// Transport is the remote sync service collaborator.
type Transport interface {
	// FetchDeltas retrieves one page of server-side deltas since a
	// timestamp. A non-empty cursor resumes a previous page; the response
	// cursor must be followed before the checkpoint may advance.
	FetchDeltas(ctx context.Context, since time.Time, cursor string, limit int) (*models.DeltaBatch, error)

	// PushChanges uploads local deltas. The server reports which entity
	// IDs landed and returns its own competing deltas for the rest.
	PushChanges(ctx context.Context, changes []models.DeltaData) (*models.PushResult, error)

	// FetchChecksum retrieves the server aggregate checksum at a
	// checkpoint time.
	FetchChecksum(ctx context.Context, ts time.Time) (string, error)

	// WatchChanges streams change notices pushed by the server. The
	// channel closes when the connection drops or ctx is cancelled.
	WatchChanges(ctx context.Context) (<-chan models.ChangeNotice, error)

	// Authentication
	SetToken(token string)
	GetToken() string

	// Lifecycle
	Close() error
}

// DefaultTransport implements Transport over HTTP plus an optional
// WebSocket notice stream.
type DefaultTransport struct {
	httpClient *HTTPClient
	wsClient   *WSClient
	logger     *events.Logger
}

// New creates a transport instance.
func New(cfg *config.APIConfig, logger *events.Logger) Transport {
	return &DefaultTransport{
		httpClient: NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

// FetchDeltas forwards to the HTTP client.
func (t *DefaultTransport) FetchDeltas(ctx context.Context, since time.Time, cursor string, limit int) (*models.DeltaBatch, error) {
	return t.httpClient.FetchDeltas(ctx, since, cursor, limit)
}

// PushChanges forwards to the HTTP client.
func (t *DefaultTransport) PushChanges(ctx context.Context, changes []models.DeltaData) (*models.PushResult, error) {
	return t.httpClient.PushChanges(ctx, changes)
}

// FetchChecksum forwards to the HTTP client.
func (t *DefaultTransport) FetchChecksum(ctx context.Context, ts time.Time) (string, error) {
	return t.httpClient.FetchChecksum(ctx, ts)
}

// WatchChanges opens a WebSocket notice stream.
func (t *DefaultTransport) WatchChanges(ctx context.Context) (<-chan models.ChangeNotice, error) {
	t.wsClient = NewWSClient(t.httpClient.baseURL, t.httpClient.GetToken(), t.logger)

	if err := t.wsClient.Connect(ctx); err != nil {
		return nil, err
	}

	go func() {
		for err := range t.wsClient.Errors() {
			t.logger.WithError(err).Error("WebSocket error")
		}
	}()

	return t.wsClient.Notices(), nil
}

// SetToken sets the auth token.
func (t *DefaultTransport) SetToken(token string) {
	t.httpClient.SetToken(token)
}

// GetToken returns the current auth token.
func (t *DefaultTransport) GetToken() string {
	return t.httpClient.GetToken()
}

// Close closes all connections.
func (t *DefaultTransport) Close() error {
	if t.wsClient != nil {
		return t.wsClient.Close()
	}
	return nil
}
