package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/toposort"

	"github.com/aristath/agentchain/internal/agent"
)

// ErrInvalidTransition is returned when a task state change would leave the
// pending -> running -> {completed | failed} path.
var ErrInvalidTransition = errors.New("invalid task state transition")

// ErrDeadlock matches every *DeadlockError.
var ErrDeadlock = errors.New("protocol deadlocked")

// DeadlockCause classifies why pending tasks can never run.
type DeadlockCause string

const (
	CauseCycle          DeadlockCause = "cycle"
	CauseDangling       DeadlockCause = "dangling_reference"
	CauseFailedUpstream DeadlockCause = "failed_upstream"
)

// DeadlockError reports a protocol that has pending tasks but nothing
// runnable and nothing running.
type DeadlockError struct {
	ProtocolID string
	Stuck      []string
	Cause      DeadlockCause
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("protocol %s deadlocked (%s): stuck tasks [%s]",
		e.ProtocolID, e.Cause, strings.Join(e.Stuck, ", "))
}

func (e *DeadlockError) Is(target error) bool { return target == ErrDeadlock }

// DependencyResult is the output of a completed dependency.
type DependencyResult struct {
	TaskID  string
	AgentID agent.ID
	Result  string
}

// Counts summarizes task states.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// DAG holds the tasks of one protocol and guards their state transitions.
type DAG struct {
	mu         sync.RWMutex
	order      []string            // Submission order
	tasks      map[string]*Task    // All tasks indexed by ID
	dependents map[string][]string // Maps taskID -> list of tasks that depend on it
}

// NewDAG builds a DAG from tasks. Returns error on duplicate task ids.
func NewDAG(tasks []*Task) (*DAG, error) {
	d := &DAG{
		tasks:      make(map[string]*Task, len(tasks)),
		dependents: make(map[string][]string),
	}
	for _, t := range tasks {
		if _, exists := d.tasks[t.ID]; exists {
			return nil, fmt.Errorf("task with ID %q already exists", t.ID)
		}
		cp := cloneTask(t)
		if cp.State == "" {
			cp.State = TaskPending
		}
		d.tasks[t.ID] = cp
		d.order = append(d.order, t.ID)
		for _, depID := range t.Dependencies {
			d.dependents[depID] = append(d.dependents[depID], t.ID)
		}
	}
	return d, nil
}

// Runnable returns pending tasks whose dependencies are all completed, in
// submission order.
func (d *DAG) Runnable() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var runnable []*Task
	for _, id := range d.order {
		task := d.tasks[id]
		if task.State != TaskPending {
			continue
		}
		if d.depsCompleted(task) {
			runnable = append(runnable, cloneTask(task))
		}
	}
	return runnable
}

func (d *DAG) depsCompleted(task *Task) bool {
	for _, depID := range task.Dependencies {
		dep, exists := d.tasks[depID]
		if !exists || dep.State != TaskCompleted {
			return false
		}
	}
	return true
}

// MarkRunning moves a pending task to running.
func (d *DAG) MarkRunning(taskID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, err := d.transition(taskID, TaskPending, TaskRunning)
	if err != nil {
		return err
	}
	task.StartTime = &at
	return nil
}

// MarkCompleted moves a running task to completed and stores its result.
func (d *DAG) MarkCompleted(taskID, result string, iterations int, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, err := d.transition(taskID, TaskRunning, TaskCompleted)
	if err != nil {
		return err
	}
	task.Result = result
	task.Iterations = iterations
	task.EndTime = &at
	return nil
}

// MarkFailed moves a running task to failed. Dependents stay pending forever.
func (d *DAG) MarkFailed(taskID string, cause error, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, err := d.transition(taskID, TaskRunning, TaskFailed)
	if err != nil {
		return err
	}
	task.Error = cause.Error()
	task.EndTime = &at
	return nil
}

func (d *DAG) transition(taskID string, from, to TaskState) (*Task, error) {
	task, exists := d.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %q not found", taskID)
	}
	if task.State != from {
		return nil, fmt.Errorf("%w: task %q is %s, cannot become %s", ErrInvalidTransition, taskID, task.State, to)
	}
	task.State = to
	return task, nil
}

// DependencyResults returns the results of taskID's completed dependencies
// in declaration order.
func (d *DAG) DependencyResults(taskID string) []DependencyResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return nil
	}
	var out []DependencyResult
	for _, depID := range task.Dependencies {
		dep, ok := d.tasks[depID]
		if !ok || dep.State != TaskCompleted {
			continue
		}
		out = append(out, DependencyResult{TaskID: dep.ID, AgentID: dep.AgentID, Result: dep.Result})
	}
	return out
}

// Get returns a copy of the task by ID.
func (d *DAG) Get(taskID string) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks in submission order.
func (d *DAG) Tasks() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tasks := make([]*Task, 0, len(d.order))
	for _, id := range d.order {
		tasks = append(tasks, cloneTask(d.tasks[id]))
	}
	return tasks
}

// Dependents returns the ids of tasks that depend directly on taskID.
func (d *DAG) Dependents(taskID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.dependents[taskID]...)
}

// Counts returns the number of tasks in each state.
func (d *DAG) Counts() Counts {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c := Counts{Total: len(d.tasks)}
	for _, task := range d.tasks {
		switch task.State {
		case TaskPending:
			c.Pending++
		case TaskRunning:
			c.Running++
		case TaskCompleted:
			c.Completed++
		case TaskFailed:
			c.Failed++
		}
	}
	return c
}

// Diagnose returns a DeadlockError for the pending tasks, classified as a
// dangling reference, a dependency cycle, or starvation behind a failed task.
// Returns nil when nothing is pending.
func (d *DAG) Diagnose(protocolID string) *DeadlockError {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var stuck []string
	dangling := false
	for _, id := range d.order {
		task := d.tasks[id]
		if task.State != TaskPending {
			continue
		}
		stuck = append(stuck, id)
		for _, depID := range task.Dependencies {
			if _, exists := d.tasks[depID]; !exists {
				dangling = true
			}
		}
	}
	if len(stuck) == 0 {
		return nil
	}

	cause := CauseFailedUpstream
	switch {
	case dangling:
		cause = CauseDangling
	case d.hasCycle():
		cause = CauseCycle
	}
	return &DeadlockError{ProtocolID: protocolID, Stuck: stuck, Cause: cause}
}

func (d *DAG) hasCycle() bool {
	_, err := toposort.Toposort(d.edges())
	return err != nil
}

// edges builds toposort edges; (dep, task) means dep must come before task.
// References to unknown tasks are skipped.
func (d *DAG) edges() []toposort.Edge {
	var edges []toposort.Edge
	for _, id := range d.order {
		task := d.tasks[id]
		known := 0
		for _, depID := range task.Dependencies {
			if _, exists := d.tasks[depID]; !exists {
				continue
			}
			edges = append(edges, toposort.Edge{depID, id})
			known++
		}
		if known == 0 {
			// Root task - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, id})
		}
	}
	return edges
}

// Order returns task ids in a valid execution order, or an error if the
// graph contains a cycle. Dangling references are ignored.
func (d *DAG) Order() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sorted, err := toposort.Toposort(d.edges())
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}
