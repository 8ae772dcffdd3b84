package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesmith/pagesync/internal/models"
)

func TestDeltaValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		delta   models.DeltaData
		wantErr string
	}{
		{
			name: "valid update",
			delta: models.DeltaData{
				Operation:  models.OpUpdate,
				EntityType: models.EntityDocument,
				EntityID:   "post-1",
				Timestamp:  now,
				Checksum:   "abc",
				Data:       json.RawMessage(`{"title":"Hi"}`),
			},
		},
		{
			name: "valid delete without data",
			delta: models.DeltaData{
				Operation:  models.OpDelete,
				EntityType: models.EntityMedia,
				EntityID:   "img-1",
				Timestamp:  now,
			},
		},
		{
			name: "unknown operation",
			delta: models.DeltaData{
				Operation:  "rename",
				EntityType: models.EntityDocument,
				EntityID:   "post-1",
				Timestamp:  now,
			},
			wantErr: "unknown operation",
		},
		{
			name: "unknown entity type",
			delta: models.DeltaData{
				Operation:  models.OpCreate,
				EntityType: "widget",
				EntityID:   "w-1",
				Timestamp:  now,
			},
			wantErr: "unknown entity type",
		},
		{
			name: "missing entity ID",
			delta: models.DeltaData{
				Operation:  models.OpUpdate,
				EntityType: models.EntityConfig,
				Timestamp:  now,
			},
			wantErr: "entity ID is required",
		},
		{
			name: "missing timestamp",
			delta: models.DeltaData{
				Operation:  models.OpUpdate,
				EntityType: models.EntityDocument,
				EntityID:   "post-1",
			},
			wantErr: "timestamp is required",
		},
		{
			name: "delete with data",
			delta: models.DeltaData{
				Operation:  models.OpDelete,
				EntityType: models.EntityDocument,
				EntityID:   "post-1",
				Timestamp:  now,
				Data:       json.RawMessage(`{}`),
			},
			wantErr: "must not carry data",
		},
		{
			name: "update without checksum",
			delta: models.DeltaData{
				Operation:  models.OpUpdate,
				EntityType: models.EntityDocument,
				EntityID:   "post-1",
				Timestamp:  now,
				Data:       json.RawMessage(`{}`),
			},
			wantErr: "requires a checksum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.delta.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSortDeltas(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	deltas := []models.DeltaData{
		{EntityType: models.EntityMedia, EntityID: "b", Timestamp: base.Add(time.Minute)},
		{EntityType: models.EntityDocument, EntityID: "a", Timestamp: base.Add(time.Minute)},
		{EntityType: models.EntityDocument, EntityID: "c", Timestamp: base},
	}
	models.SortDeltas(deltas)

	assert.Equal(t, "c", deltas[0].EntityID)
	assert.Equal(t, "a", deltas[1].EntityID, "ties break by entity key")
	assert.Equal(t, "b", deltas[2].EntityID)
}

func TestDeltaClone(t *testing.T) {
	delta := models.DeltaData{
		Operation:  models.OpUpdate,
		EntityType: models.EntityDocument,
		EntityID:   "post-1",
		Timestamp:  time.Now(),
		Data:       json.RawMessage(`{"title":"Hi"}`),
	}

	clone := delta.Clone()
	clone.Data[2] = 'x'

	assert.Equal(t, json.RawMessage(`{"title":"Hi"}`), delta.Data)
}

func TestDeltaIdentity(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 42, time.UTC)
	delta := models.DeltaData{
		Operation:  models.OpCreate,
		EntityType: models.EntityDocument,
		EntityID:   "post-1",
		Timestamp:  ts,
	}

	assert.Contains(t, delta.Identity(), "document|post-1|create|")

	later := delta
	later.Timestamp = ts.Add(time.Nanosecond)
	assert.NotEqual(t, delta.Identity(), later.Identity())
}

func TestBatchHasMore(t *testing.T) {
	assert.False(t, (&models.DeltaBatch{}).HasMore())
	assert.True(t, (&models.DeltaBatch{Cursor: "next"}).HasMore())
}
