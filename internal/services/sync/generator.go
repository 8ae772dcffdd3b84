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

// Generator scans the local store for dirty items and emits ordered deltas.
// Generation is a pure read; local state is mutated only by the applier
// after resolution.
type Generator struct {
	store    store.Store
	checksum *checksum.Service
	logger   *events.Logger
}

// NewGenerator creates a local delta generator.
func NewGenerator(st store.Store, cs *checksum.Service, logger *events.Logger) *Generator {
	return &Generator{
		store:    st,
		checksum: cs,
		logger:   logger.WithField("component", "delta_generator"),
	}
}

// GenerateResult carries the generated deltas and any items whose stored
// checksum no longer matches their data. Corrupt items produce no delta;
// the remote copy repairs them when it arrives.
type GenerateResult struct {
	Deltas  []models.DeltaData
	Repairs []models.EntityKey
}

// Generate emits one delta per dirty item across all entity types, ordered
// by timestamp ascending.
func (g *Generator) Generate(since time.Time) (*GenerateResult, error) {
	result := &GenerateResult{}

	for _, entityType := range models.EntityTypes {
		items, err := g.store.ListDirty(entityType)
		if err != nil {
			return nil, fmt.Errorf("list dirty %s items: %w", entityType, err)
		}

		for _, item := range items {
			delta, err := g.deltaFor(item)
			if err != nil {
				var valErr *models.ValidationError
				if errors.As(err, &valErr) {
					g.logger.WithFields(map[string]interface{}{
						"entity": valErr.Key.String(),
						"reason": valErr.Reason,
					}).Warn("Skipping corrupt item, awaiting remote repair")
					result.Repairs = append(result.Repairs, valErr.Key)
					continue
				}
				return nil, err
			}
			result.Deltas = append(result.Deltas, *delta)
		}
	}

	models.SortDeltas(result.Deltas)

	g.logger.WithFields(map[string]interface{}{
		"since":   since,
		"deltas":  len(result.Deltas),
		"repairs": len(result.Repairs),
	}).Debug("Generated local deltas")

	return result, nil
}

// deltaFor builds the delta proposal for one dirty item.
func (g *Generator) deltaFor(item *models.SyncItem) (*models.DeltaData, error) {
	if item.Status == models.ItemDeleted {
		return &models.DeltaData{
			Operation:        models.OpDelete,
			EntityType:       item.Type,
			EntityID:         item.ID,
			Timestamp:        item.LastModified,
			Version:          item.Version,
			PreviousChecksum: item.Checksum,
		}, nil
	}

	sum, err := g.checksum.Hash(item.Data)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", item.Key(), err)
	}

	if item.Checksum != "" && item.Checksum != sum {
		return nil, &models.ValidationError{
			Key:      item.Key(),
			Expected: item.Checksum,
			Actual:   sum,
			Reason:   "stored checksum does not match data",
		}
	}

	op := models.OpUpdate
	if item.Version <= 1 {
		op = models.OpCreate
	}

	return &models.DeltaData{
		Operation:  op,
		EntityType: item.Type,
		EntityID:   item.ID,
		Timestamp:  item.LastModified,
		Version:    item.Version,
		Checksum:   sum,
		Data:       item.Data,
	}, nil
}
