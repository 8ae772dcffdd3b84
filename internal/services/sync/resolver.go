package sync

import (
	"fmt"
	"time"

	"github.com/pagesmith/pagesync/internal/checksum"
	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/store"
)

// Resolver settles conflict records into a single authoritative delta.
type Resolver struct {
	store    store.Store
	checksum *checksum.Service
	bus      *events.Bus
	logger   *events.Logger
	now      func() time.Time
}

// NewResolver creates a conflict resolver.
func NewResolver(st store.Store, cs *checksum.Service, bus *events.Bus, logger *events.Logger) *Resolver {
	return &Resolver{
		store:    st,
		checksum: cs,
		bus:      bus,
		logger:   logger.WithField("component", "conflict_resolver"),
		now:      time.Now,
	}
}

// Resolve applies the record's strategy and closes it. Under the manual
// strategy the record stays pending, a user-resolution event fires, and
// models.ErrConflictPending is returned so the orchestrator excludes the
// entity from this cycle without blocking others.
func (r *Resolver) Resolve(rec *models.ConflictRecord) (*models.DeltaData, error) {
	r.bus.Publish(events.Event{
		Type:     events.ConflictDetected,
		Key:      rec.Key(),
		Conflict: rec,
	})

	if err := r.store.SaveConflict(rec); err != nil {
		return nil, fmt.Errorf("save conflict record: %w", err)
	}

	var (
		resolved *models.DeltaData
		err      error
	)

	switch rec.Strategy {
	case models.StrategyLocalWins:
		resolved = r.takeSide(rec, rec.Local)
	case models.StrategyRemoteWins:
		resolved = r.takeSide(rec, rec.Remote)
	case models.StrategyTimestamp:
		// Ties break toward remote.
		if rec.Local.Timestamp.After(rec.Remote.Timestamp) {
			resolved = r.takeSide(rec, rec.Local)
		} else {
			resolved = r.takeSide(rec, rec.Remote)
		}
	case models.StrategyMerge:
		resolved, err = r.merge(rec)
	case models.StrategyManual:
		r.logger.WithField("conflict_id", rec.ID).Info("Conflict awaiting user resolution")
		r.bus.Publish(events.Event{
			Type:     events.ConflictRequiresUser,
			Key:      rec.Key(),
			Conflict: rec,
		})
		return nil, models.ErrConflictPending
	default:
		err = fmt.Errorf("unknown resolution strategy: %q", rec.Strategy)
	}

	if err != nil {
		rec.Status = models.ConflictFailed
		if updateErr := r.store.UpdateConflict(rec); updateErr != nil {
			r.logger.WithError(updateErr).Warn("Failed to record conflict failure")
		}
		return nil, err
	}

	rec.Resolve(resolved, r.now())
	if err := r.store.UpdateConflict(rec); err != nil {
		return nil, fmt.Errorf("close conflict record: %w", err)
	}

	r.bus.Publish(events.Event{
		Type:     events.ConflictResolved,
		Key:      rec.Key(),
		Conflict: rec,
	})

	return resolved, nil
}

// ResolveManual closes a pending record with externally supplied data and
// returns the authoritative delta for the next cycle.
func (r *Resolver) ResolveManual(conflictID string, data []byte) (*models.DeltaData, error) {
	rec, err := r.store.GetConflict(conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict %s: %w", conflictID, err)
	}
	if !rec.Open() {
		return nil, fmt.Errorf("conflict %s is already %s", conflictID, rec.Status)
	}

	sum, err := r.checksum.Hash(data)
	if err != nil {
		return nil, fmt.Errorf("hash resolved data: %w", err)
	}

	resolved := &models.DeltaData{
		Operation:  models.OpUpdate,
		EntityType: rec.EntityType,
		EntityID:   rec.RecordID,
		Timestamp:  r.now(),
		Version:    maxInt(rec.Local.Version, rec.Remote.Version) + 1,
		Checksum:   sum,
		Data:       data,
	}

	rec.Resolve(resolved, r.now())
	if err := r.store.UpdateConflict(rec); err != nil {
		return nil, fmt.Errorf("close conflict record: %w", err)
	}

	r.bus.Publish(events.Event{
		Type:     events.ConflictResolved,
		Key:      rec.Key(),
		Conflict: rec,
	})

	return resolved, nil
}

// takeSide builds the authoritative delta from one side verbatim.
func (r *Resolver) takeSide(rec *models.ConflictRecord, side models.DeltaData) *models.DeltaData {
	resolved := side.Clone()
	resolved.Timestamp = r.now()
	resolved.Version = maxInt(rec.Local.Version, rec.Remote.Version) + 1
	return resolved
}

// merge combines both payloads with the entity-type field rules. When one
// side is a delete it has no payload to merge, so the surviving side wins.
func (r *Resolver) merge(rec *models.ConflictRecord) (*models.DeltaData, error) {
	if rec.Local.Operation == models.OpDelete {
		return r.takeSide(rec, rec.Remote), nil
	}
	if rec.Remote.Operation == models.OpDelete {
		return r.takeSide(rec, rec.Local), nil
	}

	merged, err := mergeFields(rec.EntityType, rec.Local.Data, rec.Remote.Data)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", rec.Key(), err)
	}

	sum, err := r.checksum.Hash(merged)
	if err != nil {
		return nil, fmt.Errorf("hash merged payload: %w", err)
	}

	return &models.DeltaData{
		Operation:  models.OpUpdate,
		EntityType: rec.EntityType,
		EntityID:   rec.RecordID,
		Timestamp:  r.now(),
		Version:    maxInt(rec.Local.Version, rec.Remote.Version) + 1,
		Checksum:   sum,
		Data:       merged,
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
