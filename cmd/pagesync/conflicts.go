package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagesmith/pagesync/internal/models"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflicts awaiting manual resolution",
	Args:  cobra.NoArgs,
	RunE:  runConflictsList,
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a pending conflict",
	Long: `Resolve closes a pending conflict with the chosen side's data, or
with custom data supplied via --file. The resolution is applied locally
right away and pushed on the next sync.`,
	Example: `  pagesync conflicts resolve cf-document-post-1-123 --use local
  pagesync conflicts resolve cf-document-post-1-123 --use remote
  pagesync conflicts resolve cf-document-post-1-123 --file merged.json`,
	Args: cobra.ExactArgs(1),
	RunE: runConflictsResolve,
}

var (
	resolveUse  string
	resolveFile string
)

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)

	conflictsResolveCmd.Flags().StringVar(&resolveUse, "use", "",
		"Side to keep: local or remote")
	conflictsResolveCmd.Flags().StringVar(&resolveFile, "file", "",
		"JSON file with the resolved data")
}

func runConflictsList(cmd *cobra.Command, args []string) error {
	conflicts, err := apiClient.Sync.PendingConflicts()
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}

	if jsonOutput {
		printJSON(conflicts)
		return nil
	}

	if len(conflicts) == 0 {
		printSuccess("No pending conflicts")
		return nil
	}

	for _, rec := range conflicts {
		printWarning("%s", rec.ID)
		printInfo("  entity:   %s/%s", rec.EntityType, rec.RecordID)
		printInfo("  kind:     %s", rec.Kind)
		printInfo("  detected: %s", rec.DetectedAt.Format(time.RFC3339))
		if len(rec.ConflictFields) > 0 {
			printInfo("  fields:   %s", strings.Join(rec.ConflictFields, ", "))
		}
	}
	return nil
}

func runConflictsResolve(cmd *cobra.Command, args []string) error {
	conflictID := args[0]

	data, err := resolveData(conflictID)
	if err != nil {
		return err
	}

	if err := apiClient.Sync.ResolveManual(context.Background(), conflictID, data); err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}

	printSuccess("Conflict %s resolved", conflictID)
	return nil
}

// resolveData picks the payload for the resolution from --use or --file.
func resolveData(conflictID string) (json.RawMessage, error) {
	if resolveFile != "" {
		raw, err := os.ReadFile(resolveFile)
		if err != nil {
			return nil, fmt.Errorf("read resolution file: %w", err)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%s is not valid JSON", resolveFile)
		}
		return raw, nil
	}

	rec, err := apiClient.Store().GetConflict(conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict %s: %w", conflictID, err)
	}

	var side models.DeltaData
	switch resolveUse {
	case "local":
		side = rec.Local
	case "remote":
		side = rec.Remote
	case "":
		return nil, fmt.Errorf("either --use or --file is required")
	default:
		return nil, fmt.Errorf("invalid --use value %q (want local or remote)", resolveUse)
	}

	if side.Operation == models.OpDelete || len(side.Data) == 0 {
		return nil, fmt.Errorf("%s side of %s carries no data, supply --file instead", resolveUse, conflictID)
	}
	return side.Data, nil
}
