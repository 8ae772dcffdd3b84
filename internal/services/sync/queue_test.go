package sync_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/services/sync"
)

func TestQueueFIFOOrder(t *testing.T) {
	queue := sync.NewOfflineQueue()

	for i := 0; i < 5; i++ {
		queue.Enqueue(models.OfflineOperation{
			EntityType: models.EntityDocument,
			EntityID:   fmt.Sprintf("post-%d", i),
			Operation:  models.OpUpdate,
			Data:       json.RawMessage(`{}`),
			QueuedAt:   testBase.Add(testDuration(i)),
		})
	}
	assert.Equal(t, 5, queue.Len())

	ops := queue.Drain()
	require.Len(t, ops, 5)
	for i, op := range ops {
		assert.Equal(t, fmt.Sprintf("post-%d", i), op.EntityID)
		assert.Equal(t, int64(i+1), op.Seq, "sequence numbers assigned in arrival order")
	}

	assert.Zero(t, queue.Len(), "drain empties the queue")
	assert.Empty(t, queue.Drain())
}

func TestQueueSequenceSurvivesDrain(t *testing.T) {
	queue := sync.NewOfflineQueue()

	queue.Enqueue(models.OfflineOperation{EntityType: models.EntityConfig, EntityID: "site", Operation: models.OpUpdate, QueuedAt: testBase})
	queue.Drain()
	queue.Enqueue(models.OfflineOperation{EntityType: models.EntityConfig, EntityID: "site", Operation: models.OpUpdate, QueuedAt: testBase})

	ops := queue.Drain()
	require.Len(t, ops, 1)
	assert.Equal(t, int64(2), ops[0].Seq, "sequence keeps climbing across drains")
}
