package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pathfinder/matchmaker/internal/observability"
)

var statusCommand = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show a run's status, step trail, and matches",
	Long:  "Without a run id the most recent runs are listed. With a run id the run's summary, step audit trail, and persisted matches are printed.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  statusPipelineCmd,
}

func init() {
	connectionFlags(statusCommand)
	statusCommand.Flags().Int("limit", 10, "Number of recent runs to list")
	rootCmd.AddCommand(statusCommand)
}

func statusPipelineCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	printer := observability.NewPrinter(os.Stdout)

	if len(args) == 0 {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := a.database.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}
		for i := range runs {
			printer.PrintRun(&runs[i])
		}
		return nil
	}

	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	run, err := a.database.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	printer.PrintRun(run)

	steps, err := a.database.ListSteps(ctx, runID)
	if err != nil {
		return err
	}
	printer.PrintSteps(steps)

	matches, err := a.database.ListMatchesByRun(ctx, runID, 0)
	if err != nil {
		return err
	}
	printer.PrintMatches(matches)
	return nil
}
