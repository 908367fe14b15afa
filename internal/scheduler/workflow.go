package scheduler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/agentchain/internal/agent"
	"github.com/aristath/agentchain/internal/config"
)

// FromWorkflow turns a configured workflow into a linear protocol for goal:
// each step depends on the one before it. Steps without a description get
// the goal as their description.
func FromWorkflow(name string, wf config.WorkflowConfig, goal string) (*Protocol, error) {
	if len(wf.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q has no steps", name)
	}

	p := NewProtocol(goal)
	var prev string
	for i, step := range wf.Steps {
		id, err := agent.ParseID(step.Agent)
		if err != nil {
			return nil, fmt.Errorf("workflow %q step %d: %w", name, i+1, err)
		}

		desc := step.Description
		if desc == "" {
			desc = goal
		}
		task := &Task{
			ID:          fmt.Sprintf("%s-%d-%s", name, i+1, id),
			AgentID:     id,
			Description: desc,
		}
		if prev != "" {
			task.Dependencies = []string{prev}
		}
		p.Tasks = append(p.Tasks, task)
		prev = task.ID
	}
	return p, nil
}

// LoadProtocolFile reads a protocol definition (goal and tasks) from YAML.
// A missing id is assigned on submission.
func LoadProtocolFile(path string) (*Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read protocol file: %w", err)
	}

	var p Protocol
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse protocol file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}
