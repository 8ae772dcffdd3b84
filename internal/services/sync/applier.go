package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pagesmith/pagesync/internal/checksum"
	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/store"
)

// Applier applies resolved deltas to the local store. Application is
// idempotent: a delta whose target checksum already matches the stored
// item is skipped, so re-running after a crash or retry is safe.
type Applier struct {
	store         store.Store
	checksum      *checksum.Service
	maxConcurrent int
	retryAttempts int
	logger        *events.Logger
}

// NewApplier creates a delta applier.
func NewApplier(st store.Store, cs *checksum.Service, maxConcurrent, retryAttempts int, logger *events.Logger) *Applier {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Applier{
		store:         st,
		checksum:      cs,
		maxConcurrent: maxConcurrent,
		retryAttempts: retryAttempts,
		logger:        logger.WithField("component", "delta_applier"),
	}
}

// AppliedDelta records the outcome for one delta.
type AppliedDelta struct {
	Delta   models.DeltaData
	Skipped bool
	Err     error
}

// ApplyResult summarizes one apply pass.
type ApplyResult struct {
	Processed []AppliedDelta
	Applied   int
	Skipped   int
	Failed    int
}

// Apply processes the time-ordered delta list. Deltas for the same entity
// run strictly in order; distinct entities run in parallel up to
// maxConcurrent. A store write failure is retried per delta up to the
// retry budget, then recorded as failed without aborting the rest.
func (a *Applier) Apply(ctx context.Context, deltas []models.DeltaData) (*ApplyResult, error) {
	grouped := groupByKey(deltas)

	keys := make([]models.EntityKey, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result = &ApplyResult{}
		sem    = make(chan struct{}, a.maxConcurrent)
	)

	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(key models.EntityKey, ordered []models.DeltaData) {
			defer wg.Done()
			defer func() { <-sem }()

			for i, delta := range ordered {
				outcome := a.applyOne(ctx, delta)

				mu.Lock()
				result.Processed = append(result.Processed, outcome)
				switch {
				case outcome.Err != nil:
					result.Failed++
				case outcome.Skipped:
					result.Skipped++
				default:
					result.Applied++
				}

				if outcome.Err != nil {
					// Later deltas for this entity would build on a
					// state that never landed. They still need an
					// outcome so the checkpoint accounts for them.
					for _, rest := range ordered[i+1:] {
						result.Processed = append(result.Processed, AppliedDelta{
							Delta: rest,
							Err: &models.ApplyError{
								Key: rest.Key(),
								Op:  rest.Operation,
								Err: fmt.Errorf("earlier change for this entity failed: %w", outcome.Err),
							},
						})
						result.Failed++
					}
					mu.Unlock()
					break
				}
				mu.Unlock()
			}
		}(key, grouped[key])
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.logger.WithFields(map[string]interface{}{
		"applied": result.Applied,
		"skipped": result.Skipped,
		"failed":  result.Failed,
	}).Debug("Applied delta batch")

	return result, nil
}

// ApplyLocal materializes drained offline operations as dirty items, in
// queue order. The mutations then flow through normal delta generation on
// the cycle that follows.
func (a *Applier) ApplyLocal(ops []models.OfflineOperation) error {
	for _, op := range ops {
		existing, err := a.store.Get(op.EntityType, op.EntityID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		exists := err == nil

		switch op.Operation {
		case models.OpDelete:
			if !exists {
				continue
			}
			existing.Status = models.ItemDeleted
			existing.LastModified = op.QueuedAt
			existing.Version++
			if err := a.store.Put(existing); err != nil {
				return &models.ApplyError{Key: existing.Key(), Op: op.Operation, Err: err}
			}

		case models.OpCreate, models.OpUpdate:
			sum, err := a.checksum.Hash(op.Data)
			if err != nil {
				return err
			}

			version := 1
			if exists {
				version = existing.Version + 1
			}

			item := &models.SyncItem{
				ID:           op.EntityID,
				Type:         op.EntityType,
				Data:         op.Data,
				Status:       models.ItemModified,
				LastModified: op.QueuedAt,
				Version:      version,
				Checksum:     sum,
			}
			if err := a.store.Put(item); err != nil {
				return &models.ApplyError{Key: item.Key(), Op: op.Operation, Err: err}
			}
		}
	}
	return nil
}

// MarkSynced flips pushed entities to the synced status. The applier owns
// all store writes during a cycle, including this bookkeeping.
func (a *Applier) MarkSynced(keys []models.EntityKey) error {
	for _, key := range keys {
		item, err := a.store.Get(key.Type, key.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		if item.Status == models.ItemDeleted {
			// A pushed deletion is gone on both sides now.
			if err := a.store.Delete(key.Type, key.ID); err != nil {
				return err
			}
			continue
		}

		item.Status = models.ItemSynced
		if err := a.store.Put(item); err != nil {
			return err
		}
	}
	return nil
}

// applyOne applies a single delta with the per-delta retry budget.
func (a *Applier) applyOne(ctx context.Context, delta models.DeltaData) AppliedDelta {
	outcome := AppliedDelta{Delta: delta}

	for attempt := 0; ; attempt++ {
		skipped, err := a.applyDelta(delta)
		if err == nil {
			outcome.Skipped = skipped
			return outcome
		}

		if attempt >= a.retryAttempts {
			a.logger.WithError(err).WithField("entity", delta.Key().String()).Error("Delta failed after retries")
			outcome.Err = &models.ApplyError{Key: delta.Key(), Op: delta.Operation, Err: err}
			return outcome
		}

		select {
		case <-ctx.Done():
			outcome.Err = ctx.Err()
			return outcome
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
}

// applyDelta performs one transactional entity state change.
func (a *Applier) applyDelta(delta models.DeltaData) (skipped bool, err error) {
	existing, err := a.store.Get(delta.EntityType, delta.EntityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	exists := err == nil

	switch delta.Operation {
	case models.OpDelete:
		if !exists {
			// Already gone; re-running is a no-op.
			return true, nil
		}
		return false, a.store.Delete(delta.EntityType, delta.EntityID)

	case models.OpCreate, models.OpUpdate:
		if exists && existing.Checksum == delta.Checksum {
			// Already applied; do not bump the version again.
			return true, nil
		}

		version := delta.Version
		if version == 0 {
			version = 1
			if exists {
				version = existing.Version + 1
			}
		}

		item := &models.SyncItem{
			ID:           delta.EntityID,
			Type:         delta.EntityType,
			Data:         delta.Data,
			Status:       models.ItemSynced,
			LastModified: delta.Timestamp,
			Version:      version,
			Checksum:     delta.Checksum,
		}
		return false, a.store.Put(item)

	default:
		return false, errors.New("unknown delta operation")
	}
}
