package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pathfinder/matchmaker/internal/config"
	"github.com/pathfinder/matchmaker/internal/coord"
	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/judge"
	"github.com/pathfinder/matchmaker/internal/pipeline"
	"github.com/pathfinder/matchmaker/internal/supervisor"
)

// app bundles the wired service dependencies shared by the CLI commands
type app struct {
	cfg        config.Config
	database   *db.DB
	coordStore *coord.Store
	judge      judge.Client
	supervisor *supervisor.Supervisor
}

// loadConfig layers the optional config file under env values and explicit
// flag overrides
func loadConfig(cmd *cobra.Command, configPath string) (config.Config, error) {
	var fileCfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return config.Config{}, err
		}
		fileCfg = *loaded
	}

	envCfg := config.FromEnv()
	cfg := envCfg.MergeWithDefaults(fileCfg)

	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL, _ = cmd.Flags().GetString("db-url")
	}
	if cmd.Flags().Changed("redis-url") {
		cfg.RedisURL, _ = cmd.Flags().GetString("redis-url")
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey, _ = cmd.Flags().GetString("api-key")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose, _ = cmd.Flags().GetBool("verbose")
	}

	cfg = cfg.MergeWithDefaults(config.Config{})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// connectionFlags registers the flags every command that touches the backing
// services needs
func connectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to config.json file (values can be overridden by other flags)")
	cmd.Flags().String("db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	cmd.Flags().String("redis-url", "", "Redis connection URL (optional, defaults to REDIS_URL env var)")
	cmd.Flags().String("api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	cmd.Flags().BoolP("verbose", "v", false, "Print detailed debug information")
}

// newApp connects to all backing services and wires the pipeline stack
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL environment variable or --redis-url flag is required")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	coordStore, err := coord.New(cfg.RedisURL)
	if err != nil {
		database.Close()
		return nil, err
	}

	judgeClient, err := judge.NewGeminiClient(ctx, judge.DefaultConfig(), cfg.APIKey)
	if err != nil {
		database.Close()
		coordStore.Close()
		return nil, fmt.Errorf("failed to create judge client: %w", err)
	}

	pipe := pipeline.New(database, coordStore, judgeClient)

	return &app{
		cfg:        cfg,
		database:   database,
		coordStore: coordStore,
		judge:      judgeClient,
		supervisor: supervisor.New(database, coordStore, pipe),
	}, nil
}

// close releases all connections, waiting for in-flight runs first
func (a *app) close() {
	a.supervisor.Wait()
	_ = a.judge.Close()
	_ = a.coordStore.Close()
	a.database.Close()
}
