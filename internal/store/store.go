// Package store persists sync items, checkpoints, and conflict records.
package store

import (
	"errors"

	"github.com/pagesmith/pagesync/internal/models"
)

// Store is the local persistence collaborator for the sync engine. The
// engine never assumes a particular storage backend; during a sync cycle
// only the delta applier writes items.
type Store interface {
	// Get retrieves one item by entity key.
	Get(entityType models.EntityType, id string) (*models.SyncItem, error)

	// Put inserts or replaces an item.
	Put(item *models.SyncItem) error

	// Delete removes an item and drops it from the checksum index.
	Delete(entityType models.EntityType, id string) error

	// ListDirty returns items of one type with unsynced mutations.
	ListDirty(entityType models.EntityType) ([]*models.SyncItem, error)

	// ListAll returns every item, ordered by entity key.
	ListAll() ([]*models.SyncItem, error)

	// SaveCheckpoint appends a checkpoint to the progress log.
	SaveCheckpoint(cp *models.SyncCheckpoint) error

	// LatestCheckpoint returns the most recent checkpoint.
	LatestCheckpoint() (*models.SyncCheckpoint, error)

	// SaveConflict persists a new conflict record.
	SaveConflict(rec *models.ConflictRecord) error

	// UpdateConflict replaces an existing conflict record.
	UpdateConflict(rec *models.ConflictRecord) error

	// GetConflict retrieves a conflict record by ID.
	GetConflict(id string) (*models.ConflictRecord, error)

	// ListConflicts returns conflict records in the given status, oldest
	// first. An empty status returns all records.
	ListConflicts(status models.ConflictStatus) ([]*models.ConflictRecord, error)

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrNotFound = errors.New("not found in store")
	ErrClosed   = errors.New("store is closed")
)
