package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidJSON(t *testing.T) {
	content := `{
		"database_url": "postgres://localhost:5432/matchmaker",
		"redis_url": "redis://localhost:6379/0",
		"port": 9090,
		"top_n_candidates": 30,
		"verbose": true
	}`

	tmpFile := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(tmpFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost:5432/matchmaker", cfg.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30, cfg.TopNCandidates)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	content := `{ invalid json }`

	tmpFile := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(tmpFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(tmpFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config path is empty")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://envhost/db")
	t.Setenv("REDIS_URL", "redis://envhost:6379")
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("PORT", "3000")
	t.Setenv("TOP_N_CANDIDATES", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, "postgres://envhost/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://envhost:6379", cfg.RedisURL)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 0, cfg.TopNCandidates, "unparseable numbers are ignored")
}

func TestValidate_PortRange(t *testing.T) {
	cfg := &Config{Port: 70000}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestValidate_NegativeValues(t *testing.T) {
	cfg := &Config{TopNCandidates: -1}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "top_n_candidates")
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := &Config{Port: 8080, TopNCandidates: 20}
	assert.NoError(t, cfg.Validate())
}

func TestMergeWithDefaults(t *testing.T) {
	defaults := Config{
		DatabaseURL:    "postgres://default/db",
		RedisURL:       "redis://default:6379",
		APIKey:         "default-key",
		Port:           9000,
		TopNCandidates: 25,
	}

	partial := Config{
		DatabaseURL: "postgres://custom/db",
	}

	merged := partial.MergeWithDefaults(defaults)

	// Custom values should be preserved
	assert.Equal(t, "postgres://custom/db", merged.DatabaseURL)

	// Default values should fill in empty fields
	assert.Equal(t, "redis://default:6379", merged.RedisURL)
	assert.Equal(t, "default-key", merged.APIKey)
	assert.Equal(t, 9000, merged.Port)
	assert.Equal(t, 25, merged.TopNCandidates)
}

func TestMergeWithDefaults_EmptyDefaults(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://custom/db"}

	merged := cfg.MergeWithDefaults(Config{})

	assert.Equal(t, "postgres://custom/db", merged.DatabaseURL)
	assert.Equal(t, 8080, merged.Port, "port falls back to 8080")
	assert.Equal(t, 20, merged.TopNCandidates, "top n falls back to 20")
}
