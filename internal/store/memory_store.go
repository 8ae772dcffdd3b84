package store

import (
	"sort"
	"sync"

	"github.com/pagesmith/pagesync/internal/models"
)

// MemoryStore implements Store in memory. Used in tests and as a scratch
// store for dry runs.
type MemoryStore struct {
	mu          sync.RWMutex
	items       map[models.EntityKey]*models.SyncItem
	checkpoints []*models.SyncCheckpoint
	conflicts   map[string]*models.ConflictRecord

	// Error injection for tests
	PutError    error
	DeleteError error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[models.EntityKey]*models.SyncItem),
		conflicts: make(map[string]*models.ConflictRecord),
	}
}

// Get retrieves one item.
func (s *MemoryStore) Get(entityType models.EntityType, id string) (*models.SyncItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[models.EntityKey{Type: entityType, ID: id}]
	if !ok {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

// Put inserts or replaces an item.
func (s *MemoryStore) Put(item *models.SyncItem) error {
	if s.PutError != nil {
		return s.PutError
	}
	if err := item.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Key()] = item.Clone()
	return nil
}

// Delete removes an item.
func (s *MemoryStore) Delete(entityType models.EntityType, id string) error {
	if s.DeleteError != nil {
		return s.DeleteError
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, models.EntityKey{Type: entityType, ID: id})
	return nil
}

// ListDirty returns unsynced items of one type, oldest modification first.
func (s *MemoryStore) ListDirty(entityType models.EntityType) ([]*models.SyncItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*models.SyncItem
	for key, item := range s.items {
		if key.Type == entityType && item.Dirty() {
			items = append(items, item.Clone())
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].LastModified.Equal(items[j].LastModified) {
			return items[i].LastModified.Before(items[j].LastModified)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// ListAll returns every item in entity-key order.
func (s *MemoryStore) ListAll() ([]*models.SyncItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*models.SyncItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item.Clone())
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Key().String() < items[j].Key().String()
	})
	return items, nil
}

// SaveCheckpoint appends a checkpoint.
func (s *MemoryStore) SaveCheckpoint(cp *models.SyncCheckpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cp
	s.checkpoints = append(s.checkpoints, &clone)
	return nil
}

// LatestCheckpoint returns the most recent checkpoint.
func (s *MemoryStore) LatestCheckpoint() (*models.SyncCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.checkpoints) == 0 {
		return nil, ErrNotFound
	}

	latest := s.checkpoints[0]
	for _, cp := range s.checkpoints[1:] {
		if cp.Timestamp.After(latest.Timestamp) {
			latest = cp
		}
	}
	clone := *latest
	return &clone, nil
}

// Checkpoints returns all saved checkpoints in insertion order.
func (s *MemoryStore) Checkpoints() []*models.SyncCheckpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.SyncCheckpoint, len(s.checkpoints))
	copy(out, s.checkpoints)
	return out
}

// SaveConflict persists a new conflict record.
func (s *MemoryStore) SaveConflict(rec *models.ConflictRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.conflicts[rec.ID] = &clone
	return nil
}

// UpdateConflict replaces an existing conflict record.
func (s *MemoryStore) UpdateConflict(rec *models.ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conflicts[rec.ID]; !ok {
		return ErrNotFound
	}
	clone := *rec
	s.conflicts[rec.ID] = &clone
	return nil
}

// GetConflict retrieves a conflict record by ID.
func (s *MemoryStore) GetConflict(id string) (*models.ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

// ListConflicts returns conflicts in a status, oldest first.
func (s *MemoryStore) ListConflicts(status models.ConflictStatus) ([]*models.ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*models.ConflictRecord
	for _, rec := range s.conflicts {
		if status == "" || rec.Status == status {
			clone := *rec
			records = append(records, &clone)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].DetectedAt.Equal(records[j].DetectedAt) {
			return records[i].DetectedAt.Before(records[j].DetectedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
