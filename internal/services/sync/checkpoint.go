package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/pagesmith/pagesync/internal/checksum"
	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/store"
)

// CheckpointManager persists sync progress as an immutable, monotonically
// advancing checkpoint sequence.
type CheckpointManager struct {
	store    store.Store
	checksum *checksum.Service
	logger   *events.Logger
	now      func() time.Time
}

// NewCheckpointManager creates a checkpoint manager.
func NewCheckpointManager(st store.Store, cs *checksum.Service, logger *events.Logger) *CheckpointManager {
	return &CheckpointManager{
		store:    st,
		checksum: cs,
		logger:   logger.WithField("component", "checkpoint_manager"),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (m *CheckpointManager) SetClock(now func() time.Time) {
	m.now = now
}

// Latest returns the most recent checkpoint, or the zero time when no
// cycle has ever completed.
func (m *CheckpointManager) Latest() (*models.SyncCheckpoint, error) {
	cp, err := m.store.LatestCheckpoint()
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return cp, err
}

// Commit records a completed batch. processed lists every delta that was
// applied or explicitly recorded as failed, in processing order; its
// identity tuples form the checkpoint checksum so the next cycle can
// detect unexpected remote divergence. synced counts the successes.
func (m *CheckpointManager) Commit(processed []models.DeltaData, synced int, lastSyncedID string) (*models.SyncCheckpoint, error) {
	prev, err := m.Latest()
	if err != nil {
		return nil, fmt.Errorf("load previous checkpoint: %w", err)
	}

	ts := m.now()
	if prev != nil && !ts.After(prev.Timestamp) {
		// Wall clock stalled or stepped back; the sequence still has
		// to advance.
		ts = prev.Timestamp.Add(time.Nanosecond)
	}

	tuples := make([]string, 0, len(processed))
	for _, delta := range processed {
		tuples = append(tuples, delta.Identity())
	}

	cp := &models.SyncCheckpoint{
		ID:           fmt.Sprintf("cp-%d", ts.UnixNano()),
		Timestamp:    ts,
		LastSyncedID: lastSyncedID,
		TotalItems:   len(processed),
		SyncedItems:  synced,
		Checksum:     m.checksum.HashTuples(tuples),
	}

	if err := m.store.SaveCheckpoint(cp); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}

	m.logger.WithFields(map[string]interface{}{
		"checkpoint_id": cp.ID,
		"synced":        cp.SyncedItems,
		"total":         cp.TotalItems,
	}).Info("Checkpoint committed")

	return cp, nil
}
