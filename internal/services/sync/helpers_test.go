package sync_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagesmith/pagesync/internal/checksum"
	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

func testBus() *events.Bus {
	return events.NewBus(testLogger())
}

func testDuration(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// docDelta builds an update delta for a document with a real checksum.
func docDelta(t *testing.T, id string, data string, version int, ts time.Time) models.DeltaData {
	t.Helper()

	sum, err := checksum.NewService().Hash(json.RawMessage(data))
	require.NoError(t, err)

	op := models.OpUpdate
	if version <= 1 {
		op = models.OpCreate
	}
	return models.DeltaData{
		Operation:  op,
		EntityType: models.EntityDocument,
		EntityID:   id,
		Timestamp:  ts,
		Version:    version,
		Checksum:   sum,
		Data:       json.RawMessage(data),
	}
}

// dirtyItem builds a locally modified store item with a consistent checksum.
func dirtyItem(t *testing.T, entityType models.EntityType, id, data string, version int, ts time.Time) *models.SyncItem {
	t.Helper()

	sum, err := checksum.NewService().Hash(json.RawMessage(data))
	require.NoError(t, err)

	return &models.SyncItem{
		ID:           id,
		Type:         entityType,
		Data:         json.RawMessage(data),
		Status:       models.ItemModified,
		LastModified: ts,
		Version:      version,
		Checksum:     sum,
	}
}
