package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and pending work",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	status := apiClient.Sync.Status()

	checkpoint, err := apiClient.Store().LatestCheckpoint()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	conflicts, err := apiClient.Sync.PendingConflicts()
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}

	dirty := 0
	for _, entityType := range models.EntityTypes {
		items, err := apiClient.Store().ListDirty(entityType)
		if err != nil {
			return fmt.Errorf("list dirty %s items: %w", entityType, err)
		}
		dirty += len(items)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"status":            status,
			"checkpoint":        checkpoint,
			"pending_conflicts": len(conflicts),
			"dirty_items":       dirty,
			"queued_operations": apiClient.Sync.QueueLen(),
			"authenticated":     apiClient.Authenticated(),
		})
		return nil
	}

	printInfo("Status: %s", status)
	if !apiClient.Authenticated() {
		printWarning("Not logged in (run: pagesync login)")
	}

	if checkpoint == nil {
		printInfo("Last sync: never")
	} else {
		printInfo("Last sync: %s (%d/%d items)",
			checkpoint.Timestamp.Format(time.RFC3339),
			checkpoint.SyncedItems, checkpoint.TotalItems)
	}

	printInfo("Dirty items: %d", dirty)
	if queued := apiClient.Sync.QueueLen(); queued > 0 {
		printInfo("Queued offline operations: %d", queued)
	}
	if len(conflicts) > 0 {
		printWarning("Pending conflicts: %d (pagesync conflicts list)", len(conflicts))
	}
	if err := apiClient.Sync.LastError(); err != nil {
		printError("Last sync error: %v", err)
	}
	return nil
}
