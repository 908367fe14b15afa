package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/agentchain/internal/agent"
)

// ProtocolStatus is the run-wide control flag of a protocol.
type ProtocolStatus string

const (
	ProtocolActive    ProtocolStatus = "active"
	ProtocolPaused    ProtocolStatus = "paused"
	ProtocolCompleted ProtocolStatus = "completed"
	ProtocolFailed    ProtocolStatus = "failed"
)

// Finished reports whether the protocol has reached a terminal status.
func (s ProtocolStatus) Finished() bool {
	return s == ProtocolCompleted || s == ProtocolFailed
}

// ErrInvalidProtocol is returned when a protocol cannot be submitted.
var ErrInvalidProtocol = errors.New("invalid protocol")

// Protocol is a graph of tasks scheduled as one unit.
type Protocol struct {
	ID         string         `json:"id" yaml:"id,omitempty"`
	Goal       string         `json:"goal" yaml:"goal"`
	Tasks      []*Task        `json:"tasks" yaml:"tasks"`
	Status     ProtocolStatus `json:"status" yaml:"-"`
	CreatedAt  time.Time      `json:"created_at" yaml:"-"`
	FinishedAt *time.Time     `json:"finished_at,omitempty" yaml:"-"`

	// Set when the protocol failed.
	Error string   `json:"error,omitempty" yaml:"-"`
	Stuck []string `json:"stuck,omitempty" yaml:"-"`
}

// NewProtocol creates an active protocol with a fresh id.
func NewProtocol(goal string, tasks ...*Task) *Protocol {
	return &Protocol{
		ID:        uuid.NewString(),
		Goal:      goal,
		Tasks:     tasks,
		Status:    ProtocolActive,
		CreatedAt: time.Now(),
	}
}

// Validate checks the protocol can be scheduled. Agent ids must be in the
// closed set and task ids unique. Dependency cycles and dangling references
// are not rejected here; they surface as a deadlock when the run starves.
func (p *Protocol) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalidProtocol)
	}
	seen := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if t == nil {
			return fmt.Errorf("%w: task %d is empty", ErrInvalidProtocol, i)
		}
		if t.ID == "" {
			return fmt.Errorf("%w: task %d has no id", ErrInvalidProtocol, i)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate task id %q", ErrInvalidProtocol, t.ID)
		}
		seen[t.ID] = true
		if _, err := agent.ParseID(string(t.AgentID)); err != nil {
			return fmt.Errorf("%w: task %q: %w", ErrInvalidProtocol, t.ID, err)
		}
	}
	return nil
}

// Task returns the task with id, or nil.
func (p *Protocol) Task(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *Protocol) Clone() *Protocol {
	cp := *p
	cp.Tasks = make([]*Task, len(p.Tasks))
	for i, t := range p.Tasks {
		cp.Tasks[i] = cloneTask(t)
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		cp.FinishedAt = &t
	}
	if p.Stuck != nil {
		cp.Stuck = append([]string(nil), p.Stuck...)
	}
	return &cp
}

// reset prepares a submitted protocol for a fresh run.
func (p *Protocol) reset(now time.Time) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.Status = ProtocolActive
	p.FinishedAt = nil
	p.Error = ""
	p.Stuck = nil
	for _, t := range p.Tasks {
		t.State = TaskPending
		t.StartTime = nil
		t.EndTime = nil
		t.Result = ""
		t.Error = ""
		t.Iterations = 0
	}
}
