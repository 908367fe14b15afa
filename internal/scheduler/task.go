package scheduler

import (
	"time"

	"github.com/aristath/agentchain/internal/agent"
)

// TaskState represents the lifecycle state of a task.
// Transitions: pending -> running -> {completed | failed}.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is a unit of work executed by one agent.
type Task struct {
	ID           string   `json:"id" yaml:"id"`
	AgentID      agent.ID `json:"agent_id" yaml:"agent"`
	Description  string   `json:"description" yaml:"description"`
	Dependencies []string `json:"dependencies" yaml:"depends_on,omitempty"`

	// TargetScore > 0 routes the task through the refinement loop.
	TargetScore int `json:"target_score,omitempty" yaml:"target_score,omitempty"`

	State      TaskState  `json:"state" yaml:"-"`
	StartTime  *time.Time `json:"start_time,omitempty" yaml:"-"`
	EndTime    *time.Time `json:"end_time,omitempty" yaml:"-"`
	Result     string     `json:"result,omitempty" yaml:"-"`
	Error      string     `json:"error,omitempty" yaml:"-"`
	Iterations int        `json:"iterations,omitempty" yaml:"-"`
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.Dependencies != nil {
		cp.Dependencies = append([]string(nil), task.Dependencies...)
	}
	if task.StartTime != nil {
		t := *task.StartTime
		cp.StartTime = &t
	}
	if task.EndTime != nil {
		t := *task.EndTime
		cp.EndTime = &t
	}
	return &cp
}
