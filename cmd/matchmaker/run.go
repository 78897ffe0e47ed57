package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/observability"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Execute one matchmaking run end-to-end",
	Long: `Triggers the full matchmaking pipeline: plan -> discover -> pre_filter -> match -> critique -> summarize -> persist.

The command blocks until the run reaches a terminal state, streaming the run's event log to stdout as it executes. Optional id filters restrict the run to a subset of researchers or opportunities.`,
	RunE: runPipelineCmd,
}

var (
	runResearcherIDs  []int64
	runOpportunityIDs []int64
)

func init() {
	connectionFlags(runCommand)
	runCommand.Flags().Int64SliceVarP(&runResearcherIDs, "researchers", "r", nil, "Researcher ids to match (optional, defaults to all active)")
	runCommand.Flags().Int64SliceVarP(&runOpportunityIDs, "opportunities", "o", nil, "Opportunity ids to match (optional, defaults to all open)")
	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
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

	runID, err := a.supervisor.Start(ctx, db.TriggerManual, runResearcherIDs, runOpportunityIDs)
	if err != nil {
		return err
	}
	fmt.Printf("Started run %s\n", runID)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		a.supervisor.Wait()
		close(done)
		return nil
	})
	g.Go(func() error {
		return tailRunLog(gctx, a, runID.String(), done)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	run, err := a.database.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load finished run: %w", err)
	}

	printer := observability.NewPrinter(os.Stdout)
	printer.PrintRun(run)
	if cfg.Verbose {
		if steps, err := a.database.ListSteps(ctx, runID); err == nil {
			printer.PrintSteps(steps)
		}
	}
	if matches, err := a.database.ListMatchesByRun(ctx, runID, 0); err == nil {
		printer.PrintMatches(matches)
	}

	if run != nil && run.Status == db.RunStatusFailed {
		return fmt.Errorf("run %s failed", runID)
	}
	return nil
}

// tailRunLog polls the run's event log and prints new entries until the run
// signals its end or the supervisor reports all work finished
func tailRunLog(ctx context.Context, a *app, runID string, done <-chan struct{}) error {
	var cursor int64
	flush := func() bool {
		entries, next, err := a.coordStore.TailLog(ctx, runID, cursor)
		if err != nil {
			return false
		}
		cursor = next
		ended := false
		for _, entry := range entries {
			fmt.Println(entry)
			if strings.Contains(entry, `"workflow_end"`) {
				ended = true
			}
		}
		return ended
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			flush()
			return nil
		case <-ticker.C:
			if flush() {
				return nil
			}
		}
	}
}
