package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/services/sync"
	"github.com/pagesmith/pagesync/internal/transport"
)

func TestFetchAllFollowsCursor(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.AddBatch(&models.DeltaBatch{
		Deltas: []models.DeltaData{docDelta(t, "post-2", `{"title":"b"}`, 1, testBase.Add(time.Minute))},
		Cursor: "page-2",
	})
	mock.AddBatch(&models.DeltaBatch{
		Deltas:   []models.DeltaData{docDelta(t, "post-1", `{"title":"a"}`, 1, testBase)},
		Checksum: "server-sum",
	})

	fetcher := sync.NewFetcher(mock, 50, testLogger())

	result, err := fetcher.FetchAll(context.Background(), testBase)
	require.NoError(t, err)

	require.Len(t, result.Deltas, 2)
	assert.Equal(t, "post-1", result.Deltas[0].EntityID, "pages merge into timestamp order")
	assert.Equal(t, "server-sum", result.ServerChecksum)

	require.Len(t, mock.FetchRequests, 2)
	assert.Empty(t, mock.FetchRequests[0].Cursor)
	assert.Equal(t, "page-2", mock.FetchRequests[1].Cursor)
	assert.Equal(t, 50, mock.FetchRequests[0].Limit)
}

func TestFetchAllRejectsMalformedDeltas(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.AddBatch(&models.DeltaBatch{
		Deltas: []models.DeltaData{{Operation: "rename", EntityType: models.EntityDocument, EntityID: "x", Timestamp: testBase}},
	})

	fetcher := sync.NewFetcher(mock, 50, testLogger())

	_, err := fetcher.FetchAll(context.Background(), testBase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operation")
}

func TestFetchAllSurfacesMidStreamFailure(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.AddBatch(&models.DeltaBatch{
		Deltas: []models.DeltaData{docDelta(t, "post-1", `{"title":"a"}`, 1, testBase)},
		Cursor: "page-2",
	})

	fetcher := sync.NewFetcher(mock, 50, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.FetchAll(ctx, testBase)
	assert.Error(t, err, "a canceled fetch never yields a truncated result")
}
