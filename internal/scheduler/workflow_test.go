package scheduler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/agentchain/internal/agent"
	"github.com/aristath/agentchain/internal/config"
)

func TestFromWorkflow(t *testing.T) {
	wf := config.WorkflowConfig{Steps: []config.WorkflowStepConfig{
		{Agent: "sp-01", Description: "Research the market"},
		{Agent: "cc-06"},
		{Agent: "ra-01"},
	}}

	p, err := FromWorkflow("campaign", wf, "Launch the spring line")
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.Equal(t, "Launch the spring line", p.Goal)
	assert.NotEmpty(t, p.ID)
	require.Len(t, p.Tasks, 3)

	assert.Equal(t, "campaign-1-sp-01", p.Tasks[0].ID)
	assert.Equal(t, agent.Strategist, p.Tasks[0].AgentID)
	assert.Equal(t, "Research the market", p.Tasks[0].Description)
	assert.Empty(t, p.Tasks[0].Dependencies)

	assert.Equal(t, "Launch the spring line", p.Tasks[1].Description)
	assert.Equal(t, []string{"campaign-1-sp-01"}, p.Tasks[1].Dependencies)
	assert.Equal(t, []string{"campaign-2-cc-06"}, p.Tasks[2].Dependencies)

	dag, err := NewDAG(p.Tasks)
	require.NoError(t, err)
	order, err := dag.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"campaign-1-sp-01", "campaign-2-cc-06", "campaign-3-ra-01"}, order)
}

func TestFromWorkflow_Errors(t *testing.T) {
	_, err := FromWorkflow("empty", config.WorkflowConfig{}, "goal")
	assert.Error(t, err)

	_, err = FromWorkflow("bad", config.WorkflowConfig{Steps: []config.WorkflowStepConfig{{Agent: "zz-00"}}}, "goal")
	assert.ErrorIs(t, err, agent.ErrUnknownID)
}

func TestFromWorkflow_DefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	for name, wf := range cfg.Workflows {
		p, err := FromWorkflow(name, wf, "goal")
		require.NoError(t, err, name)
		assert.NoError(t, p.Validate(), name)
	}
}

func TestLoadProtocolFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocol.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
goal: Launch the spring line
tasks:
  - id: research
    agent: sp-01
    description: Map the competitive landscape
  - id: copy
    agent: cc-06
    description: Draft the hero article
    depends_on: [research]
    target_score: 85
  - id: visuals
    agent: da-03
    description: Storyboard the visuals
    depends_on: [research]
`), 0o644))

	p, err := LoadProtocolFile(path)
	require.NoError(t, err)

	assert.Equal(t, "Launch the spring line", p.Goal)
	require.Len(t, p.Tasks, 3)
	assert.Equal(t, agent.ContentDirector, p.Tasks[1].AgentID)
	assert.Equal(t, []string{"research"}, p.Tasks[1].Dependencies)
	assert.Equal(t, 85, p.Tasks[1].TargetScore)
}

func TestLoadProtocolFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadProtocolFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("goal: x\ntasks:\n  - id: a\n    agent: nobody\n"), 0o644))
	_, err = LoadProtocolFile(bad)
	assert.ErrorIs(t, err, ErrInvalidProtocol)

	malformed := filepath.Join(dir, "malformed.yaml")
	require.NoError(t, os.WriteFile(malformed, []byte("goal: [unclosed"), 0o644))
	_, err = LoadProtocolFile(malformed)
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name      string
		desc      string
		deps      []DependencyResult
		directive string
		want      string
	}{
		{
			name: "no dependencies",
			desc: "research",
			want: "research",
		},
		{
			name: "two dependencies",
			desc: "ship",
			deps: []DependencyResult{
				{AgentID: agent.ContentDirector, Result: "copy"},
				{AgentID: agent.DesignArchitect, Result: "art"},
			},
			want: "TASK: ship\n\nDEPENDENCY CONTEXT:\nRESULT FROM [cc-06]:\ncopy\n\nRESULT FROM [da-03]:\nart",
		},
		{
			name:      "directive without dependencies",
			desc:      "research",
			directive: "Focus on Europe.",
			want:      "research\n\nEXECUTIVE DIRECTIVE:\nFocus on Europe.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildPrompt(tt.desc, tt.deps, tt.directive))
		})
	}
}

func TestInterventions(t *testing.T) {
	iv := NewInterventions()
	ok := func() error { return nil }
	require.NoError(t, iv.AddIf("p1", "t1", "first", ok))
	require.NoError(t, iv.AddIf("p1", "t1", "second", ok))
	require.NoError(t, iv.AddIf("p2", "t1", "other", ok))

	rejected := errors.New("dispatched")
	assert.ErrorIs(t, iv.AddIf("p3", "t1", "late", func() error { return rejected }), rejected)
	assert.Equal(t, 2, iv.Pending())

	d, taken := iv.Take("p1", "t1")
	assert.True(t, taken)
	assert.Equal(t, "second", d)

	_, taken = iv.Take("p1", "t1")
	assert.False(t, taken, "directives are consumed once")

	iv.Drop("p2")
	assert.Equal(t, 0, iv.Pending())
}
