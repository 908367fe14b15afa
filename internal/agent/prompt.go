package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aristath/agentchain/internal/backend"
	"github.com/aristath/agentchain/internal/config"
)

// PromptAgent prefixes every prompt with its identity and forwards it to a
// generator.
type PromptAgent struct {
	id       ID
	name     string
	identity string
	grounded bool
	gen      backend.Generator
}

// NewPromptAgent creates an agent over gen.
func NewPromptAgent(id ID, name, identity string, grounded bool, gen backend.Generator) *PromptAgent {
	return &PromptAgent{id: id, name: name, identity: identity, grounded: grounded, gen: gen}
}

func (a *PromptAgent) ID() ID       { return a.id }
func (a *PromptAgent) Name() string { return a.name }

// Execute sends the identity-prefixed prompt to the generator.
func (a *PromptAgent) Execute(ctx context.Context, prompt string) (string, error) {
	full := a.compose(prompt)
	if a.grounded {
		return a.gen.GenerateGrounded(ctx, full)
	}
	return a.gen.Generate(ctx, full)
}

func (a *PromptAgent) compose(prompt string) string {
	if a.identity == "" {
		return prompt
	}
	var b strings.Builder
	b.WriteString("IDENTITY: ")
	if a.name != "" {
		fmt.Fprintf(&b, "%s (%s). ", a.name, strings.ToUpper(string(a.id)))
	}
	b.WriteString(a.identity)
	b.WriteString("\n\n")
	b.WriteString(prompt)
	return b.String()
}

// Generators resolves the resilient generator for a provider and model.
type Generators struct {
	cfg      *config.Config
	procMgr  *backend.ProcessManager
	breakers *backend.BreakerRegistry
	logger   *zap.Logger
}

// NewGenerators builds provider generators from cfg, sharing one breaker per
// provider.
func NewGenerators(cfg *config.Config, procMgr *backend.ProcessManager, logger *zap.Logger) *Generators {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generators{
		cfg:     cfg,
		procMgr: procMgr,
		breakers: backend.NewBreakerRegistry(backend.BreakerConfig{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			OpenTimeout:      cfg.Resilience.OpenTimeout.Duration(),
		}, logger),
		logger: logger,
	}
}

// For returns a generator for the named provider with an optional model override.
func (g *Generators) For(provider, model string) (backend.Generator, error) {
	p, ok := g.cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	gen, err := backend.New(backend.Config{
		Name:       provider,
		Type:       p.Type,
		Command:    p.Command,
		Args:       p.Args,
		GroundArgs: p.Ground,
		Model:      model,
	}, g.procMgr)
	if err != nil {
		return nil, err
	}

	rc := backend.DefaultRetryConfig()
	if g.cfg.Resilience.MaxRetries >= 0 {
		rc.MaxRetries = uint64(g.cfg.Resilience.MaxRetries)
	}
	if d := g.cfg.Resilience.InitialInterval.Duration(); d > 0 {
		rc.InitialInterval = d
	}
	if d := g.cfg.Resilience.MaxInterval.Duration(); d > 0 {
		rc.MaxInterval = d
	}
	return backend.NewResilient(provider, gen, g.breakers, rc, g.cfg.Scheduler.CallTimeout.Duration(), g.logger), nil
}

// ConfigFactory builds PromptAgents from the agents section of cfg.
func ConfigFactory(cfg *config.Config, gens *Generators) Factory {
	return func(id ID) (Agent, error) {
		ac, ok := cfg.Agents[string(id)]
		if !ok {
			return nil, errors.New("not configured")
		}
		gen, err := gens.For(ac.Provider, ac.Model)
		if err != nil {
			return nil, err
		}
		return NewPromptAgent(id, ac.Name, ac.SystemPrompt, ac.Grounded, gen), nil
	}
}
