package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudwarden/cloudwarden/pkg/stores"
)

func newReportCommand() *cobra.Command {
	var (
		storePath  string
		runID      string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect persisted run reports",
		Example: `  # List recent runs
  warden report --store warden.db

  # Show one run with per-resource results
  warden report --store warden.db --run-id 8f14e45f`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := stores.NewSQLiteStore(stores.Config{Path: storePath})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				run, results, err := store.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				events, err := store.GetEvents(ctx, runID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return json.NewEncoder(os.Stdout).Encode(map[string]any{
						"run":     run,
						"results": results,
						"events":  events,
					})
				}
				printRun(*run)
				for _, result := range results {
					line := fmt.Sprintf("  %-9s %-12s %s", result.Status, result.Action, result.ResourceID)
					if result.Error != "" {
						line += "  (" + result.Error + ")"
					}
					fmt.Println(line)
				}
				for _, event := range events {
					fmt.Printf("  %s  %-5s %s\n",
						event.Timestamp.Format(time.RFC3339), event.Level, event.Message)
				}
				return nil
			}

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(runs)
			}
			for _, run := range runs {
				printRun(run)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "warden.db", "SQLite database path")
	cmd.Flags().StringVar(&runID, "run-id", "", "show one run in detail")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func printRun(run stores.RunSummary) {
	status := "ok"
	if run.Error != "" {
		status = "error: " + run.Error
	}
	fmt.Printf("%s  %s  %s  queried=%d matched=%d  %s  %s\n",
		run.StartedAt.Format(time.RFC3339),
		run.RunID,
		run.Policy,
		run.Queried,
		run.Matched,
		run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond),
		status,
	)
}
