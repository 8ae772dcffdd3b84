package sync_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/services/sync"
	"github.com/pagesmith/pagesync/internal/store"
	"github.com/pagesmith/pagesync/internal/transport"
)

func testEngineConfig() *sync.Config {
	return &sync.Config{
		BatchSize:         10,
		MaxConcurrent:     2,
		RetryAttempts:     2,
		RetryDelay:        time.Millisecond,
		Strategy:          models.StrategyMerge,
		TimestampWindow:   time.Second,
		ValidateIntegrity: false,
	}
}

func newOrchestrator(t *testing.T, cfg *sync.Config) (*sync.Orchestrator, *store.MemoryStore, *transport.MockTransport) {
	t.Helper()
	if cfg == nil {
		cfg = testEngineConfig()
	}
	st := store.NewMemoryStore()
	mock := transport.NewMockTransport()
	bus := testBus()
	t.Cleanup(bus.Close)
	return sync.NewOrchestrator(cfg, st, mock, bus, testLogger()), st, mock
}

func TestCyclePushesLocalChanges(t *testing.T) {
	orch, st, mock := newOrchestrator(t, nil)

	require.NoError(t, st.Put(dirtyItem(t, models.EntityDocument, "post-1", `{"title":"Draft"}`, 2, testBase)))

	result, err := orch.Sync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pushed)
	assert.Zero(t, result.Conflicts)
	require.NotNil(t, result.Checkpoint)

	require.Len(t, mock.PushRequests, 1)
	require.Len(t, mock.PushRequests[0], 1)
	assert.Equal(t, "post-1", mock.PushRequests[0][0].EntityID)
	assert.Equal(t, models.OpUpdate, mock.PushRequests[0][0].Operation)

	item, err := st.Get(models.EntityDocument, "post-1")
	require.NoError(t, err)
	assert.Equal(t, models.ItemSynced, item.Status)
	assert.Equal(t, sync.PhaseIdle, orch.Phase())
	assert.Equal(t, models.StatusIdle, orch.Status())
}

func TestCycleAppliesRemoteDeltas(t *testing.T) {
	orch, st, mock := newOrchestrator(t, nil)

	mock.AddBatch(&models.DeltaBatch{Deltas: []models.DeltaData{
		docDelta(t, "post-1", `{"title":"From server"}`, 1, testBase),
	}})

	result, err := orch.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	item, err := st.Get(models.EntityDocument, "post-1")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"title":"From server"}`), item.Data)
	assert.Equal(t, models.ItemSynced, item.Status)
	assert.Empty(t, mock.PushRequests, "nothing local to push")
}

func TestCycleResumesFromCheckpoint(t *testing.T) {
	orch, _, mock := newOrchestrator(t, nil)

	first, err := orch.Sync(context.Background(), false)
	require.NoError(t, err)

	_, err = orch.Sync(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, mock.FetchRequests, 2)
	assert.True(t, mock.FetchRequests[0].Since.IsZero(), "first cycle walks from the beginning")
	assert.True(t, mock.FetchRequests[1].Since.Equal(first.Checkpoint.Timestamp),
		"second cycle resumes from the checkpoint")
}

func TestCycleMergesConcurrentEdits(t *testing.T) {
	orch, st, mock := newOrchestrator(t, nil)

	require.NoError(t, st.Put(dirtyItem(t, models.EntityDocument, "post-1",
		`{"title":"Post","content":"Hello World","tags":["local"]}`, 2, testBase)))

	mock.AddBatch(&models.DeltaBatch{Deltas: []models.DeltaData{
		docDelta(t, "post-1", `{"title":"Post","content":"Hello","tags":["remote"],"status":"published"}`, 2, testBase.Add(time.Hour)),
	}})

	result, err := orch.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Zero(t, result.ManualPending)

	item, err := st.Get(models.EntityDocument, "post-1")
	require.NoError(t, err)

	var merged map[string]interface{}
	require.NoError(t, json.Unmarshal(item.Data, &merged))
	assert.Equal(t, "Hello World", merged["content"], "longer content survives")
	assert.Equal(t, []interface{}{"local", "remote"}, merged["tags"])
	assert.Equal(t, "published", merged["status"])
	assert.Equal(t, 3, item.Version, "merge bumps past both sides")

	// The merged delta is also pushed back.
	require.Len(t, mock.PushRequests, 1)
	require.Len(t, mock.PushRequests[0], 1)
	assert.Equal(t, 3, mock.PushRequests[0][0].Version)
}

func TestCycleEqualContentNeverConflicts(t *testing.T) {
	orch, _, mock := newOrchestrator(t, nil)

	data := `{"title":"Same everywhere"}`
	require.NoError(t, mockAndStoreSame(t, orch, mock, data))

	result, err := orch.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, result.Conflicts)
}

// mockAndStoreSame seeds identical content on both sides of the pairing.
func mockAndStoreSame(t *testing.T, orch *sync.Orchestrator, mock *transport.MockTransport, data string) error {
	t.Helper()
	mock.AddBatch(&models.DeltaBatch{Deltas: []models.DeltaData{
		docDelta(t, "post-1", data, 2, testBase.Add(time.Minute)),
	}})
	orch.QueueMutation(models.OfflineOperation{
		EntityType: models.EntityDocument,
		EntityID:   "post-1",
		Operation:  models.OpUpdate,
		Data:       json.RawMessage(data),
		QueuedAt:   testBase,
	})
	return nil
}

func TestManualConflictExcludesEntityFromCycle(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Strategy = models.StrategyManual
	orch, st, mock := newOrchestrator(t, cfg)

	require.NoError(t, st.Put(dirtyItem(t, models.EntityDocument, "post-1", `{"title":"Mine"}`, 2, testBase)))
	mock.AddBatch(&models.DeltaBatch{Deltas: []models.DeltaData{
		docDelta(t, "post-1", `{"title":"Theirs"}`, 2, testBase.Add(time.Hour)),
	}})

	result, err := orch.Sync(context.Background(), false)
	require.NoError(t, err, "a pending conflict does not fail the cycle")
	assert.Equal(t, 1, result.ManualPending)
	assert.Empty(t, mock.PushRequests, "the conflicted entity is held back")

	item, err := st.Get(models.EntityDocument, "post-1")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"title":"Mine"}`), item.Data, "local copy untouched")
	assert.Equal(t, models.ItemModified, item.Status)

	assert.Equal(t, models.StatusConflict, orch.Status())

	pending, err := orch.PendingConflicts()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// A user decision closes the conflict and updates the local copy.
	require.NoError(t, orch.ResolveManual(context.Background(), pending[0].ID, []byte(`{"title":"Final"}`)))

	item, err = st.Get(models.EntityDocument, "post-1")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"title":"Final"}`), item.Data)
	assert.Equal(t, 3, item.Version)
}

func TestOfflineQueueDrainsIntoCycle(t *testing.T) {
	orch, st, mock := newOrchestrator(t, nil)

	orch.SetOnline(context.Background(), false)
	assert.Equal(t, models.StatusOffline, orch.Status())

	_, err := orch.Sync(context.Background(), false)
	require.ErrorIs(t, err, models.ErrOffline)

	orch.QueueMutation(models.OfflineOperation{
		EntityType: models.EntityDocument, EntityID: "post-1", Operation: models.OpCreate,
		Data: json.RawMessage(`{"title":"Offline draft"}`), QueuedAt: testBase,
	})
	orch.QueueMutation(models.OfflineOperation{
		EntityType: models.EntityDocument, EntityID: "post-1", Operation: models.OpUpdate,
		Data: json.RawMessage(`{"title":"Offline edit"}`), QueuedAt: testBase.Add(time.Minute),
	})
	assert.Equal(t, 2, orch.QueueLen())

	orch.SetOnline(context.Background(), true)

	result, err := orch.Sync(context.Background(), false)
	if errors.Is(err, models.ErrSyncInProgress) {
		// The reconnect already kicked off a background drain; wait for it.
		require.Eventually(t, func() bool {
			return orch.QueueLen() == 0 && orch.Status() == models.StatusIdle
		}, 5*time.Second, 10*time.Millisecond)
	} else {
		require.NoError(t, err)
		assert.Equal(t, 1, result.Pushed, "queued edits collapse into one delta")
	}

	item, err := st.Get(models.EntityDocument, "post-1")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"title":"Offline edit"}`), item.Data)
	assert.Equal(t, models.ItemSynced, item.Status)

	require.NotEmpty(t, mock.PushRequests)
	require.Len(t, mock.PushRequests[0], 1)
}

func TestQueuedCreateThenDeleteNeverReachesServer(t *testing.T) {
	orch, st, mock := newOrchestrator(t, nil)

	orch.QueueMutation(models.OfflineOperation{
		EntityType: models.EntityMedia, EntityID: "img-1", Operation: models.OpCreate,
		Data: json.RawMessage(`{"filename":"temp.png"}`), QueuedAt: testBase,
	})
	orch.QueueMutation(models.OfflineOperation{
		EntityType: models.EntityMedia, EntityID: "img-1", Operation: models.OpDelete,
		QueuedAt: testBase.Add(time.Minute),
	})

	_, err := orch.Sync(context.Background(), false)
	require.NoError(t, err)

	_, err = st.Get(models.EntityMedia, "img-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "entity is gone after the cycle")

	for _, pushed := range mock.PushRequests {
		for _, delta := range pushed {
			if delta.EntityID == "img-1" {
				assert.Equal(t, models.OpDelete, delta.Operation,
					"at most a delete crosses the wire, never the phantom create")
			}
		}
	}
}

func TestIdempotentResync(t *testing.T) {
	orch, st, mock := newOrchestrator(t, nil)

	delta := docDelta(t, "post-1", `{"title":"Stable"}`, 1, testBase)
	mock.AddBatch(&models.DeltaBatch{Deltas: []models.DeltaData{delta}})
	mock.AddBatch(&models.DeltaBatch{Deltas: []models.DeltaData{delta}})

	first, err := orch.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Applied)

	// The server replays the same delta; application is a no-op.
	second, err := orch.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, second.Applied)
	assert.Equal(t, 1, second.Skipped)

	item, err := st.Get(models.EntityDocument, "post-1")
	require.NoError(t, err)
	assert.Equal(t, 1, item.Version)
}

func TestFetchFailureFailsCycle(t *testing.T) {
	orch, st, mock := newOrchestrator(t, nil)

	mock.FetchError = &models.NetworkError{Op: "GET", URL: "/sync/deltas", Err: errors.New("down")}

	_, err := orch.Sync(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, models.StatusError, orch.Status())
	assert.Error(t, orch.LastError())

	_, cpErr := st.LatestCheckpoint()
	assert.ErrorIs(t, cpErr, store.ErrNotFound, "failed cycle commits no checkpoint")
}

func TestBackgroundSyncRetriesWithBackoff(t *testing.T) {
	orch, st, mock := newOrchestrator(t, nil)

	mock.FetchError = &models.NetworkError{Op: "GET", URL: "/sync/deltas", Err: errors.New("down")}
	mock.FetchFailures = 2

	orch.RequestSync(context.Background())

	require.Eventually(t, func() bool {
		_, err := st.LatestCheckpoint()
		return err == nil
	}, 2*time.Second, 5*time.Millisecond, "transient outage heals through rescheduled cycles")
	assert.GreaterOrEqual(t, mock.FetchCount(), 3, "two failed attempts plus the one that lands")
}

func TestBackgroundSyncDoesNotRetryFatalErrors(t *testing.T) {
	orch, st, mock := newOrchestrator(t, nil)

	mock.FetchError = &models.APIError{StatusCode: 401, Message: "token expired"}

	orch.RequestSync(context.Background())

	require.Eventually(t, func() bool {
		return orch.Status() == models.StatusError
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, mock.FetchCount(), "auth failures need user action, not rescheduling")
	_, err := st.LatestCheckpoint()
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// blockingTransport holds FetchDeltas open until released so tests can
// observe a cycle mid-flight.
type blockingTransport struct {
	*transport.MockTransport
	entered chan struct{}
	release chan struct{}
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{
		MockTransport: transport.NewMockTransport(),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
}

func (b *blockingTransport) FetchDeltas(ctx context.Context, since time.Time, cursor string, limit int) (*models.DeltaBatch, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.MockTransport.FetchDeltas(ctx, since, cursor, limit)
}

func TestOnlyOneCycleAtATime(t *testing.T) {
	blocking := newBlockingTransport()
	st := store.NewMemoryStore()
	bus := testBus()
	defer bus.Close()
	orch := sync.NewOrchestrator(testEngineConfig(), st, blocking, bus, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := orch.Sync(context.Background(), false)
		done <- err
	}()

	<-blocking.entered
	assert.Equal(t, models.StatusSyncing, orch.Status())

	_, err := orch.Sync(context.Background(), false)
	assert.ErrorIs(t, err, models.ErrSyncInProgress)

	close(blocking.release)
	require.NoError(t, <-done)
}

func TestCancelledCycleCommitsNoCheckpoint(t *testing.T) {
	blocking := newBlockingTransport()
	st := store.NewMemoryStore()
	bus := testBus()
	defer bus.Close()
	orch := sync.NewOrchestrator(testEngineConfig(), st, blocking, bus, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := orch.Sync(context.Background(), false)
		done <- err
	}()

	<-blocking.entered
	orch.Cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCycleCancelled)

	_, err = st.LatestCheckpoint()
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIntegrityMismatchForcesFullResync(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ValidateIntegrity = true
	orch, _, mock := newOrchestrator(t, cfg)

	mock.ServerChecksum = "divergent"

	result, err := orch.Sync(context.Background(), false)
	require.NoError(t, err, "integrity mismatch is non-fatal")
	assert.False(t, result.IntegrityOK)

	_, err = orch.Sync(context.Background(), false)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(mock.FetchRequests), 2)
	last := mock.FetchRequests[len(mock.FetchRequests)-1]
	assert.True(t, last.Since.IsZero(), "next cycle walks the full history")
}
