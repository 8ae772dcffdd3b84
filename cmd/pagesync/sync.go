package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/services/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize local content with the server",
	Long: `Sync reconciles local edits with remote changes. The sync is
incremental by default, exchanging only deltas since the last
checkpoint. Use --full to walk the complete history.`,
	Example: `  pagesync sync
  pagesync sync --full
  pagesync sync --watch`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var (
	syncFull  bool
	syncWatch bool
)

const resultPrecision = 10 * time.Millisecond

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncFull, "full", "f", false,
		"Force full sync instead of incremental")
	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false,
		"Keep running and sync on server change notices")
}

func runSync(cmd *cobra.Command, args []string) error {
	if !apiClient.Authenticated() {
		return models.ErrNotAuthenticated
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		printWarning("\nSync interrupted, cancelling...")
		apiClient.Sync.Cancel()
		cancel()
	}()

	eventCh, unsubscribe := apiClient.Events.Subscribe()
	defer unsubscribe()
	go reportEvents(eventCh)

	result, err := apiClient.Sync.Sync(ctx, sync.SyncOptions{Full: syncFull})
	if err != nil {
		return err
	}
	reportResult(result)

	if !syncWatch {
		return nil
	}

	printInfo("Watching for server changes (Ctrl-C to stop)")
	if err := apiClient.Sync.Watch(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// reportEvents surfaces conflict and integrity events as they happen.
func reportEvents(ch <-chan events.Event) {
	for event := range ch {
		switch event.Type {
		case events.ConflictRequiresUser:
			printWarning("Conflict on %s needs manual resolution: pagesync conflicts resolve %s",
				event.Key, event.Conflict.ID)
		case events.ConflictResolved:
			logger.WithField("entity", event.Key.String()).Debug("Conflict resolved")
		case events.IntegrityFailed:
			printWarning("Integrity check failed, next sync will walk the full history")
		}
	}
}

func reportResult(result *sync.CycleResult) {
	if jsonOutput {
		printJSON(map[string]interface{}{
			"applied":        result.Applied,
			"skipped":        result.Skipped,
			"pushed":         result.Pushed,
			"failed":         result.Failed,
			"conflicts":      result.Conflicts,
			"manual_pending": result.ManualPending,
			"integrity_ok":   result.IntegrityOK,
			"duration":       result.Duration.String(),
			"checkpoint":     result.Checkpoint,
		})
		return
	}

	printSuccess("Sync completed in %s", result.Duration.Round(resultPrecision))
	printInfo("  applied %d, pushed %d, skipped %d, failed %d",
		result.Applied, result.Pushed, result.Skipped, result.Failed)
	if result.Conflicts > 0 {
		printInfo("  conflicts resolved: %d", result.Conflicts-result.ManualPending)
	}
	if result.ManualPending > 0 {
		printWarning("  %d conflicts await manual resolution (pagesync conflicts list)", result.ManualPending)
	}
	if !result.IntegrityOK {
		printWarning("  integrity mismatch, next sync will be full")
	}
	if result.Checkpoint != nil {
		fmt.Fprintf(os.Stderr, "  checkpoint %s\n", result.Checkpoint.ID)
	}
}
