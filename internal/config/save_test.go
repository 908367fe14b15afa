package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Scheduler.Concurrency = 4
	cfg.Scheduler.CallTimeout = Duration(90 * time.Second)
	cfg.Agents["sp-01"] = AgentConfig{Provider: "gemini", Model: "pro", Grounded: true}

	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "call_timeout: 1m30s")

	loaded, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Scheduler.Concurrency)
	assert.Equal(t, 90*time.Second, loaded.Scheduler.CallTimeout.Duration())
	assert.Equal(t, "pro", loaded.Agents["sp-01"].Model)
	assert.True(t, loaded.Agents["sp-01"].Grounded)
}

func TestSave_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	err := Save(DefaultConfig(), filepath.Join(blocker, "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating directory")
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
