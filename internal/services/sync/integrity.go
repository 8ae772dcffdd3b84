package sync

import (
	"context"
	"fmt"

	"github.com/pagesmith/pagesync/internal/checksum"
	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/store"
	"github.com/pagesmith/pagesync/internal/transport"
)

// IntegrityValidator compares the aggregate local checksum against the
// server's after a cycle. A mismatch is non-fatal: it flags the dataset
// for a future forced full resync instead of rolling anything back.
type IntegrityValidator struct {
	store     store.Store
	transport transport.Transport
	checksum  *checksum.Service
	bus       *events.Bus
	logger    *events.Logger
}

// NewIntegrityValidator creates an integrity validator.
func NewIntegrityValidator(st store.Store, tr transport.Transport, cs *checksum.Service, bus *events.Bus, logger *events.Logger) *IntegrityValidator {
	return &IntegrityValidator{
		store:     st,
		transport: tr,
		checksum:  cs,
		bus:       bus,
		logger:    logger.WithField("component", "integrity_validator"),
	}
}

// Validate computes the local aggregate digest for the checkpoint time and
// compares it with the server's. It returns true when the two agree.
func (v *IntegrityValidator) Validate(ctx context.Context, cp *models.SyncCheckpoint) (bool, error) {
	local, err := v.LocalChecksum()
	if err != nil {
		return false, fmt.Errorf("compute local checksum: %w", err)
	}

	remote, err := v.transport.FetchChecksum(ctx, cp.Timestamp)
	if err != nil {
		return false, fmt.Errorf("fetch remote checksum: %w", err)
	}

	if local != remote {
		v.logger.WithFields(map[string]interface{}{
			"local":  local,
			"remote": remote,
		}).Warn("Integrity validation failed, full resync recommended")
		v.bus.Publish(events.Event{
			Type:       events.IntegrityFailed,
			Checkpoint: cp,
		})
		return false, nil
	}

	v.bus.Publish(events.Event{
		Type:       events.IntegrityPassed,
		Checkpoint: cp,
	})
	return true, nil
}

// LocalChecksum digests every (key, lastModified) pair in entity-key
// order.
func (v *IntegrityValidator) LocalChecksum() (string, error) {
	items, err := v.store.ListAll()
	if err != nil {
		return "", err
	}

	tuples := make([]string, 0, len(items))
	for _, item := range items {
		tuples = append(tuples, fmt.Sprintf("%s|%d", item.Key(), item.LastModified.UnixNano()))
	}
	return v.checksum.HashTuples(tuples), nil
}
