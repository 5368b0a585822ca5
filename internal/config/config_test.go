package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Writer.FlushThreshold)
	assert.Equal(t, 30*time.Second, cfg.Writer.FlushInterval)
	assert.Equal(t, 10*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 1000, cfg.Query.MaxDepth)
	assert.Equal(t, 1<<20, cfg.Validation.MaxPayloadBytes)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
store:
  path: /var/lib/runlog/runs.db
writer:
  flush_threshold: 250
  flush_interval: 5s
query:
  timeout: 2500ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/runlog/runs.db", cfg.Store.Path)
	assert.Equal(t, 16, cfg.Store.ReadConns, "unset keys keep defaults")
	assert.Equal(t, 250, cfg.Writer.FlushThreshold)
	assert.Equal(t, 5*time.Second, cfg.Writer.FlushInterval)
	assert.Equal(t, 2500*time.Millisecond, cfg.Query.Timeout)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "writer:\n  flush_treshold: 10\n"))
	assert.ErrorContains(t, err, "flush_treshold")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RUNLOG_STORE_PATH", "/tmp/env.db")
	t.Setenv("RUNLOG_FLUSH_THRESHOLD", "42")
	t.Setenv("RUNLOG_QUERY_TIMEOUT", "3s")

	cfg, err := Load(writeConfig(t, "writer:\n  flush_threshold: 7\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Store.Path)
	assert.Equal(t, 42, cfg.Writer.FlushThreshold, "env wins over file")
	assert.Equal(t, 3*time.Second, cfg.Query.Timeout)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("RUNLOG_FLUSH_INTERVAL", "soon")
	_, err := Load("")
	assert.ErrorContains(t, err, "RUNLOG_FLUSH_INTERVAL")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.Writer.FlushThreshold = 0
	cfg.Query.MaxPageSize = 10

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "writer.flush_threshold")
	assert.Contains(t, err.Error(), "query.max_page_size")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
