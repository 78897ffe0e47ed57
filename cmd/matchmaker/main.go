// Package main provides the entry point for the matchmaking service CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "matchmaker",
	Short: "Funding opportunity matchmaking service",
	Long:  "Matchmaker cross-references researcher profiles against open funding opportunities through a multi-stage scoring pipeline and serves the results over a REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
