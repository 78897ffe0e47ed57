package main

import (
	"context"

	"github.com/spf13/cobra"
)

var resumeCommand = &cobra.Command{
	Use:   "resume",
	Short: "Resume runs interrupted by a crash",
	Long: `Scans for runs left in pending or running state by a dead process and re-executes each from its last checkpoint, oldest first.

Runs that exhausted their retry budget are marked permanently failed; runs cancelled while the process was down are finalized as cancelled.`,
	RunE: resumePipelineCmd,
}

func init() {
	connectionFlags(resumeCommand)
	rootCmd.AddCommand(resumeCommand)
}

func resumePipelineCmd(cmd *cobra.Command, _ []string) error {
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

	return a.supervisor.ResumeIncompleteOnBoot(ctx)
}
