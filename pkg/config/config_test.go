package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())
	assert.Equal(t, "file", cfg.Storage.Type)
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Storage.GCIntervalDuration())
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  type: badger
  path: /tmp/graphs
  sync_writes: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Storage.Type)
	assert.True(t, cfg.Storage.SyncWrites)
	assert.Equal(t, "30s", cfg.Session.OperationTimeout)
	assert.Equal(t, "styled", cfg.Session.Renderer)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)
}

func TestLoad_MemoryNeedsNoPath(t *testing.T) {
	path := writeConfig(t, "storage:\n  type: memory\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Storage.Path)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DECOMPOSE_STORAGE_TYPE", "MEMORY")
	t.Setenv("DECOMPOSE_STORAGE_PATH", "/var/lib/decompose")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(writeConfig(t, "storage:\n  type: file\n"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "/var/lib/decompose", cfg.Storage.Path)
	assert.True(t, cfg.Observability.Tracing.Enabled)
	assert.Equal(t, "collector:4318", cfg.Observability.Tracing.Endpoint)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"UnknownStorage", "storage:\n  type: postgres\n", "config.storage.type must be one of"},
		{"BadLevel", "observability:\n  logging:\n    level: loud\n", "config.observability.logging.level"},
		{"SamplingRate", "observability:\n  tracing:\n    sampling_rate: 2\n", "must be at most 1"},
		{"BadTimeout", "session:\n  operation_timeout: soon\n", "operation_timeout"},
		{"BadGC", "storage:\n  gc_interval: often\n", "gc_interval"},
		{"Malformed", "storage: [", "failed to parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadOrDefault(t *testing.T) {
	for _, key := range []string{"DECOMPOSE_STORAGE_TYPE", "DECOMPOSE_STORAGE_PATH", "OTEL_EXPORTER_OTLP_ENDPOINT", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	t.Setenv("DECOMPOSE_STORAGE_TYPE", "memory")
	cfg, err = LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Type)
}

func TestLoadOrDefault_InvalidFileIsAnError(t *testing.T) {
	for _, key := range []string{"DECOMPOSE_STORAGE_TYPE", "DECOMPOSE_STORAGE_PATH", "OTEL_EXPORTER_OTLP_ENDPOINT", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"MisspelledStorage", "storage:\n  type: badgr\n  path: /srv/decompose\n", "config.storage.type must be one of"},
		{"Malformed", "storage: [", "failed to parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadOrDefault(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadOrDefault_InvalidEnvOverride(t *testing.T) {
	t.Setenv("DECOMPOSE_STORAGE_TYPE", "postgres")

	_, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config.storage.type must be one of")
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Storage.Type = "badger"
	cfg.Observability.Logging.Format = "text"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
