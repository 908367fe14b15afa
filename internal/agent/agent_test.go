package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/agentchain/internal/config"
)

func TestParseID(t *testing.T) {
	for _, id := range All() {
		got, err := ParseID(string(id))
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	_, err := ParseID("zz-99")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownID)

	_, err = ParseID("")
	assert.ErrorIs(t, err, ErrUnknownID)
}

func TestRegistry_LazyAndCached(t *testing.T) {
	var builds atomic.Int32
	r := NewRegistry(func(id ID) (Agent, error) {
		builds.Add(1)
		return &Func{AgentID: id, Fn: func(context.Context, string) (string, error) { return "ok", nil }}, nil
	}, nil)

	assert.Empty(t, r.Loaded())

	var wg sync.WaitGroup
	got := make([]Agent, 10)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.Get(Strategist)
			assert.NoError(t, err)
			got[i] = a
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load(), "constructed exactly once")
	for _, a := range got {
		assert.Same(t, got[0], a)
	}
	assert.Equal(t, []ID{Strategist}, r.Loaded())
}

func TestRegistry_NotFound(t *testing.T) {
	r := NewRegistry(func(id ID) (Agent, error) {
		return nil, errors.New("not configured")
	}, nil)

	_, err := r.Get(MotionDirector)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = r.Get(ID("zz-99"))
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = NewRegistry(nil, nil).Get(Strategist)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil, nil)
	fake := Func{AgentID: Auditor, Fn: func(context.Context, string) (string, error) { return "audited", nil }}
	r.Register(fake)

	a, err := r.Get(Auditor)
	require.NoError(t, err)
	out, err := a.Execute(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "audited", out)
}

type recordingGenerator struct {
	prompts  []string
	grounded []bool
}

func (g *recordingGenerator) Generate(_ context.Context, p string) (string, error) {
	g.prompts = append(g.prompts, p)
	g.grounded = append(g.grounded, false)
	return "generated", nil
}

func (g *recordingGenerator) GenerateGrounded(_ context.Context, p string) (string, error) {
	g.prompts = append(g.prompts, p)
	g.grounded = append(g.grounded, true)
	return "grounded", nil
}

func TestPromptAgent_Execute(t *testing.T) {
	gen := &recordingGenerator{}

	plain := NewPromptAgent(ContentDirector, "Content Director", "You write copy.", false, gen)
	out, err := plain.Execute(context.Background(), "TASK: launch post")
	require.NoError(t, err)
	assert.Equal(t, "generated", out)
	assert.Equal(t, "IDENTITY: Content Director (CC-06). You write copy.\n\nTASK: launch post", gen.prompts[0])

	grounded := NewPromptAgent(Strategist, "", "", true, gen)
	out, err = grounded.Execute(context.Background(), "TASK: market scan")
	require.NoError(t, err)
	assert.Equal(t, "grounded", out)
	assert.Equal(t, "TASK: market scan", gen.prompts[1])
	assert.Equal(t, []bool{false, true}, gen.grounded)
}

func TestConfigFactory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers["local"] = config.ProviderConfig{Type: "echo"}
	cfg.Agents[string(Strategist)] = config.AgentConfig{Provider: "local", SystemPrompt: "Plan."}
	delete(cfg.Agents, string(MotionDirector))

	r := NewRegistry(ConfigFactory(cfg, NewGenerators(cfg, nil, nil)), nil)

	a, err := r.Get(Strategist)
	require.NoError(t, err)
	out, err := a.Execute(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "IDENTITY: Plan.\n\ngo", out)

	_, err = r.Get(MotionDirector)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}
