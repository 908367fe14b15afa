package agent

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Resolver looks up agents by id. *Registry implements it.
type Resolver interface {
	Get(id ID) (Agent, error)
}

// Factory builds the agent for id. It is called at most once per id.
type Factory func(id ID) (Agent, error)

// Registry maps ids to lazily constructed, cached agents.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	agents  map[ID]Agent
	logger  *zap.Logger
}

// NewRegistry creates a registry. A nil factory means only agents added with
// Register can be resolved.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory: factory,
		agents:  make(map[ID]Agent),
		logger:  logger.Named("agents"),
	}
}

// Register installs a pre-built agent, replacing any cached instance.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID()] = a
}

// Get returns the cached agent for id, building it on first use.
// Failed constructions are not cached, so a later call may succeed.
func (r *Registry) Get(id ID) (Agent, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.agents[id]; ok {
		return a, nil
	}
	if r.factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	a, err := r.factory(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAgentNotFound, id, err)
	}
	r.agents[id] = a
	r.logger.Debug("agent constructed", zap.String("agent_id", string(id)))
	return a, nil
}

// Loaded returns the ids with a cached instance.
func (r *Registry) Loaded() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ID, 0, len(r.agents))
	for _, id := range known {
		if _, ok := r.agents[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
