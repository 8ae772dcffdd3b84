package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesmith/pagesync/internal/config"
	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/transport"
)

func newTestClient(t *testing.T, handler http.Handler) *transport.HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	return transport.NewHTTPClient(&config.APIConfig{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		UserAgent:  "pagesync-test",
	}, logger)
}

func TestFetchDeltas(t *testing.T) {
	var gotQuery map[string]string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sync/deltas", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		gotQuery = map[string]string{
			"since":  r.URL.Query().Get("since"),
			"limit":  r.URL.Query().Get("limit"),
			"cursor": r.URL.Query().Get("cursor"),
		}

		json.NewEncoder(w).Encode(models.DeltaBatch{
			Deltas: []models.DeltaData{{
				Operation:  models.OpUpdate,
				EntityType: models.EntityDocument,
				EntityID:   "post-1",
				Timestamp:  time.Now().UTC(),
				Checksum:   "abc",
				Data:       json.RawMessage(`{"title":"Hi"}`),
			}},
			Cursor:   "page-2",
			Checksum: "server-sum",
		})
	}))
	client.SetToken("test-token")

	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch, err := client.FetchDeltas(context.Background(), since, "page-1", 50)
	require.NoError(t, err)

	assert.Equal(t, "1772366400000", gotQuery["since"])
	assert.Equal(t, "50", gotQuery["limit"])
	assert.Equal(t, "page-1", gotQuery["cursor"])

	require.Len(t, batch.Deltas, 1)
	assert.Equal(t, "post-1", batch.Deltas[0].EntityID)
	assert.True(t, batch.HasMore())
	assert.Equal(t, "server-sum", batch.Checksum)
}

func TestPushChanges(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sync/push", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var payload struct {
			Changes []models.DeltaData `json:"changes"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Changes, 2)

		json.NewEncoder(w).Encode(models.PushResult{
			Succeeded: []string{"post-1"},
			Conflicts: []models.DeltaData{payload.Changes[1]},
		})
	}))

	changes := []models.DeltaData{
		{Operation: models.OpUpdate, EntityType: models.EntityDocument, EntityID: "post-1", Timestamp: time.Now(), Checksum: "a", Data: json.RawMessage(`{}`)},
		{Operation: models.OpUpdate, EntityType: models.EntityDocument, EntityID: "post-2", Timestamp: time.Now(), Checksum: "b", Data: json.RawMessage(`{}`)},
	}

	result, err := client.PushChanges(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, []string{"post-1"}, result.Succeeded)
	assert.Len(t, result.Conflicts, 1)
}

func TestFetchChecksum(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sync/checksum", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("timestamp"))
		json.NewEncoder(w).Encode(map[string]string{"checksum": "agg-123"})
	}))

	sum, err := client.FetchChecksum(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "agg-123", sum)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(models.DeltaBatch{})
	}))
	client.SetRetryDelay(time.Millisecond)

	_, err := client.FetchDeltas(context.Background(), time.Now(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(models.APIError{Code: models.ErrCodeAuth, Message: "token expired"})
	}))
	client.SetRetryDelay(time.Millisecond)

	_, err := client.FetchDeltas(context.Background(), time.Now(), "", 10)
	require.Error(t, err)

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}
