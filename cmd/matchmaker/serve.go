package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/pathfinder/matchmaker/internal/server"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start the matchmaking HTTP API server",
	Long: `Starts the REST API for triggering runs, monitoring progress, and querying matches.

Runs interrupted by a previous crash are resumed in the background before the server accepts traffic, unless --no-resume is given.`,
	RunE: servePipelineCmd,
}

func init() {
	connectionFlags(serveCommand)
	serveCommand.Flags().IntP("port", "p", 0, "HTTP listen port (optional, defaults to PORT env var or 8080)")
	serveCommand.Flags().Bool("no-resume", false, "Skip crash recovery of incomplete runs at startup")
	rootCmd.AddCommand(serveCommand)
}

func servePipelineCmd(cmd *cobra.Command, _ []string) error {
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

	noResume, _ := cmd.Flags().GetBool("no-resume")
	if !noResume {
		go func() {
			if err := a.supervisor.ResumeIncompleteOnBoot(context.Background()); err != nil {
				log.Printf("crash recovery failed: %v", err)
			}
		}()
	}

	fmt.Printf("Starting matchmaking API on port %d\n", cfg.Port)
	srv := server.New(server.Config{Port: cfg.Port}, a.database, a.supervisor, a.coordStore)
	return srv.Start()
}
