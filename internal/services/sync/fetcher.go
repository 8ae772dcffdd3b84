package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/transport"
)

// Fetcher retrieves remote deltas in bounded batches.
type Fetcher struct {
	transport transport.Transport
	batchSize int
	logger    *events.Logger
}

// NewFetcher creates a remote delta fetcher.
func NewFetcher(tr transport.Transport, batchSize int, logger *events.Logger) *Fetcher {
	return &Fetcher{
		transport: tr,
		batchSize: batchSize,
		logger:    logger.WithField("component", "delta_fetcher"),
	}
}

// FetchResult carries all remote deltas since a checkpoint plus the
// server-reported aggregate checksum.
type FetchResult struct {
	Deltas         []models.DeltaData
	ServerChecksum string
}

// FetchAll follows the resumable cursor until the server reports no more
// pages. The engine never advances its checkpoint past data it has not
// fetched, so a mid-stream failure surfaces as an error rather than a
// truncated result.
func (f *Fetcher) FetchAll(ctx context.Context, since time.Time) (*FetchResult, error) {
	result := &FetchResult{}
	cursor := ""

	for {
		batch, err := f.transport.FetchDeltas(ctx, since, cursor, f.batchSize)
		if err != nil {
			return nil, fmt.Errorf("fetch deltas since %s: %w", since.Format(time.RFC3339), err)
		}

		for _, delta := range batch.Deltas {
			if err := delta.Validate(); err != nil {
				return nil, fmt.Errorf("remote delta for %s/%s: %w", delta.EntityType, delta.EntityID, err)
			}
		}
		result.Deltas = append(result.Deltas, batch.Deltas...)

		if batch.Checksum != "" {
			result.ServerChecksum = batch.Checksum
		}

		if !batch.HasMore() {
			break
		}
		cursor = batch.Cursor

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	models.SortDeltas(result.Deltas)

	f.logger.WithFields(map[string]interface{}{
		"since":  since,
		"deltas": len(result.Deltas),
	}).Debug("Fetched remote deltas")

	return result, nil
}
