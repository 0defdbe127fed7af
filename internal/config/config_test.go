package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 25, cfg.Dispatch.BacklogThreshold)
	assert.Equal(t, 1000, cfg.Embedding.ChunkLimit)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.PollInterval)
	assert.True(t, cfg.Annotation.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KBINGEST_CONFIG", "")
	t.Setenv("KBINGEST_STORE", "memory")
	t.Setenv("KBINGEST_BATCH_SIZE", "3")
	t.Setenv("KBINGEST_POLL_INTERVAL", "5s")
	t.Setenv("KBINGEST_ANNOTATE", "false")
	t.Setenv("KBINGEST_PERSONAS", "developer, designer ,")
	t.Setenv("KBINGEST_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Dispatch.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.PollInterval)
	assert.False(t, cfg.Annotation.Enabled)
	assert.Equal(t, []string{"developer", "designer"}, cfg.Annotation.Personas)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kbingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: memory
embedding:
  provider: openai
  model: text-embedding-3-small
  dimension: 1536
dispatch:
  poll_interval: 1m
  backlog_threshold: 100
annotation:
  fallbacks: [gpt-4o-mini, gpt-4.1-mini]
`), 0o644))
	t.Setenv("KBINGEST_CONFIG", path)
	t.Setenv("KBINGEST_BACKLOG_THRESHOLD", "40")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, time.Minute, cfg.Dispatch.PollInterval)
	assert.Equal(t, 40, cfg.Dispatch.BacklogThreshold, "env wins over file")
	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4.1-mini"}, cfg.Annotation.Fallbacks)
	assert.Equal(t, "ws://localhost:8000/rpc", cfg.SurrealDB.URL, "defaults survive")
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad int", map[string]string{"KBINGEST_BATCH_SIZE": "many"}, "KBINGEST_BATCH_SIZE"},
		{"bad duration", map[string]string{"KBINGEST_POLL_INTERVAL": "soon"}, "KBINGEST_POLL_INTERVAL"},
		{"bad bool", map[string]string{"KBINGEST_ANNOTATE": "maybe"}, "KBINGEST_ANNOTATE"},
		{"bad backend", map[string]string{"KBINGEST_STORE": "postgres"}, "store backend"},
		{"neo4j without uri", map[string]string{"KBINGEST_GRAPH_STORE": "neo4j"}, "NEO4J_URI"},
		{"zero dimension", map[string]string{"KBINGEST_EMBEDDING_DIMENSION": "0"}, "dimension"},
		{"missing file", map[string]string{"KBINGEST_CONFIG": "/nonexistent/kbingest.yaml"}, "reading config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KBINGEST_CONFIG", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job processed", "job_id", "j1")

	assert.Contains(t, stderr.String(), "job processed")
	assert.NotContains(t, stderr.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "j1", entry["job_id"])
}

func TestSetupLoggerWithoutFile(t *testing.T) {
	logger, cleanup := SetupLogger("", slog.LevelInfo)
	require.NotNil(t, logger)
	assert.NoError(t, cleanup())
}

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kbingest.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("cycle finished", "claimed", 3)
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "cycle finished", entry["msg"])
	assert.EqualValues(t, 3, entry["claimed"])
}
