package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/http2"

	"github.com/pagesmith/pagesync/internal/config"
	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
)

// HTTPClient handles HTTP communication with the sync service.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	token     string
	logger    *events.Logger

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetRetryDelay overrides the base backoff delay.
func (c *HTTPClient) SetRetryDelay(delay time.Duration) {
	c.retryDelay = delay
}

// SetToken sets the authentication token.
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// GetToken returns the current authentication token.
func (c *HTTPClient) GetToken() string {
	return c.token
}

// FetchDeltas retrieves one page of remote deltas.
func (c *HTTPClient) FetchDeltas(ctx context.Context, since time.Time, cursor string, limit int) (*models.DeltaBatch, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	query.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	body, err := c.getJSON(ctx, "/sync/deltas?"+query.Encode())
	if err != nil {
		return nil, err
	}

	batch := &models.DeltaBatch{}
	if err := json.Unmarshal(body, batch); err != nil {
		return nil, fmt.Errorf("parse delta batch: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"deltas": len(batch.Deltas),
		"cursor": batch.Cursor,
	}).Debug("Fetched delta batch")

	return batch, nil
}

// PushChanges uploads local deltas.
func (c *HTTPClient) PushChanges(ctx context.Context, changes []models.DeltaData) (*models.PushResult, error) {
	payload := map[string]interface{}{"changes": changes}

	body, err := c.postJSON(ctx, "/sync/push", payload)
	if err != nil {
		return nil, err
	}

	result := &models.PushResult{}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, fmt.Errorf("parse push result: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"pushed":    len(changes),
		"succeeded": len(result.Succeeded),
		"conflicts": len(result.Conflicts),
	}).Debug("Pushed changes")

	return result, nil
}

// FetchChecksum retrieves the server aggregate checksum for a checkpoint
// time.
func (c *HTTPClient) FetchChecksum(ctx context.Context, ts time.Time) (string, error) {
	query := url.Values{}
	query.Set("timestamp", strconv.FormatInt(ts.UnixMilli(), 10))

	body, err := c.getJSON(ctx, "/sync/checksum?"+query.Encode())
	if err != nil {
		return "", err
	}

	var resp struct {
		Checksum string `json:"checksum"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse checksum response: %w", err)
	}
	return resp.Checksum, nil
}

// getJSON executes a GET request with retry.
func (c *HTTPClient) getJSON(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// postJSON executes a POST request with retry.
func (c *HTTPClient) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + path

	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    fullURL,
		"size":   len(body),
	}).Debug("Sending request")

	var respBody []byte
	err := c.retry(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return &models.NetworkError{Op: method, URL: fullURL, Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &models.NetworkError{Op: method, URL: fullURL, Err: err}
		}

		if c.isRetryable(resp.StatusCode) {
			return &models.NetworkError{
				Op:  method,
				URL: fullURL,
				Err: fmt.Errorf("server error %d: %s", resp.StatusCode, data),
			}
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &models.APIError{}
			if err := json.Unmarshal(data, apiErr); err == nil && apiErr.Code != "" {
				apiErr.StatusCode = resp.StatusCode
				return apiErr
			}
			return &models.APIError{
				Code:       models.ErrCodeServer,
				Message:    string(data),
				StatusCode: resp.StatusCode,
			}
		}

		respBody = data
		return nil
	})

	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !models.IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}
