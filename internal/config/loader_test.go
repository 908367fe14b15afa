package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_NoFilesReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing-global.yaml"), filepath.Join(dir, "missing-project.yaml"))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Len(t, cfg.Providers, len(def.Providers))
	assert.Len(t, cfg.Agents, 6)
	assert.Contains(t, cfg.Workflows, "campaign")
	assert.Equal(t, time.Second, cfg.Scheduler.PollInterval.Duration())
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.CallTimeout.Duration())
	assert.Equal(t, 3, cfg.Refine.MaxIterations)
	assert.Equal(t, 40, cfg.Pipeline.HighRiskBelow)
	assert.Equal(t, []string{"cc-06", "da-03"}, cfg.Pipeline.SynthesisAgents)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "global", "config.yaml")
	project := filepath.Join(dir, "project", "config.yaml")

	writeFile(t, global, `
scheduler:
  concurrency: 2
  poll_interval: 250ms
agents:
  sp-01:
    model: global-model
`)
	writeFile(t, project, `
scheduler:
  concurrency: 8
agents:
  sp-01:
    model: project-model
workflows:
  brief:
    steps:
      - agent: sp-01
      - agent: pm-07
`)

	cfg, err := Load(global, project)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Scheduler.Concurrency, "project overrides global")
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.PollInterval.Duration(), "global survives where project is silent")
	assert.Equal(t, "project-model", cfg.Agents["sp-01"].Model)
	assert.Equal(t, "gemini", cfg.Agents["sp-01"].Provider, "agent fields merge with defaults")
	assert.Contains(t, cfg.Workflows, "campaign")
	require.Contains(t, cfg.Workflows, "brief")
	assert.Len(t, cfg.Workflows["brief"].Steps, 2)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	project := filepath.Join(dir, "config.yaml")
	writeFile(t, project, "scheduler:\n  concurrency: 3\n")

	t.Setenv("AGENTCHAIN_SCHEDULER_CONCURRENCY", "6")
	t.Setenv("AGENTCHAIN_SCHEDULER_CALL_TIMEOUT", "45s")
	t.Setenv("AGENTCHAIN_LOG_LEVEL", "debug")

	cfg, err := Load("", project)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Scheduler.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.CallTimeout.Duration())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	project := filepath.Join(dir, "config.yaml")
	writeFile(t, project, "scheduler: [unclosed\n")

	_, err := Load("", project)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading project config")
}

func TestLoad_ValidationFailure(t *testing.T) {
	dir := t.TempDir()
	project := filepath.Join(dir, "config.yaml")
	writeFile(t, project, `
agents:
  sp-01:
    provider: nowhere
`)

	_, err := Load("", project)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "workflow references unknown agent",
			mutate:  func(c *Config) { c.Workflows["x"] = WorkflowConfig{Steps: []WorkflowStepConfig{{Agent: "zz-99"}}} },
			wantErr: "unknown agent",
		},
		{
			name:    "empty workflow",
			mutate:  func(c *Config) { c.Workflows["x"] = WorkflowConfig{} },
			wantErr: "no steps",
		},
		{
			name:    "pipeline references unknown agent",
			mutate:  func(c *Config) { c.Pipeline.Grounder = "zz-99" },
			wantErr: "unknown agent",
		},
		{
			name:    "zero iterations",
			mutate:  func(c *Config) { c.Refine.MaxIterations = 0 },
			wantErr: "max_iterations",
		},
		{
			name:    "target score out of range",
			mutate:  func(c *Config) { c.Refine.TargetScore = 101 },
			wantErr: "target_score",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "scheduler.concurrency", envKey("AGENTCHAIN_SCHEDULER_CONCURRENCY"))
	assert.Equal(t, "events.nats_url", envKey("AGENTCHAIN_EVENTS_NATS_URL"))
	assert.Equal(t, "debug", envKey("AGENTCHAIN_DEBUG"))
}
