package models

import (
	"fmt"
	"strings"
	"time"
)

// SyncCheckpoint is an immutable marker of sync progress.
//
// Checkpoints form a strictly increasing sequence by Timestamp. A checkpoint
// is committed only after every delta in its batch has been applied or
// explicitly recorded as failed.
type SyncCheckpoint struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	LastSyncedID string    `json:"last_synced_id,omitempty"`
	TotalItems   int       `json:"total_items"`
	SyncedItems  int       `json:"synced_items"`
	Checksum     string    `json:"checksum"`
}

// Validate checks the checkpoint structure.
func (c *SyncCheckpoint) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("checkpoint ID is required")
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("checkpoint timestamp is required")
	}
	if c.SyncedItems > c.TotalItems {
		return fmt.Errorf("synced items %d exceeds total %d", c.SyncedItems, c.TotalItems)
	}
	return nil
}

// After reports whether c succeeds prev in the checkpoint sequence.
func (c *SyncCheckpoint) After(prev *SyncCheckpoint) bool {
	if prev == nil {
		return true
	}
	return c.Timestamp.After(prev.Timestamp)
}
