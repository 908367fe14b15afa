package scheduler

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func mustDAG(t *testing.T, tasks ...*Task) *DAG {
	t.Helper()
	dag, err := NewDAG(tasks)
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}
	return dag
}

func ids(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

// TestDAGOrder tests topological ordering with various graph structures.
func TestDAGOrder(t *testing.T) {
	tests := []struct {
		name        string
		tasks       []*Task
		wantErr     bool
		errContains string
	}{
		{
			name: "valid linear chain",
			tasks: []*Task{
				{ID: "A"},
				{ID: "B", Dependencies: []string{"A"}},
				{ID: "C", Dependencies: []string{"B"}},
			},
		},
		{
			name: "diamond",
			tasks: []*Task{
				{ID: "A"},
				{ID: "B", Dependencies: []string{"A"}},
				{ID: "C", Dependencies: []string{"A"}},
				{ID: "D", Dependencies: []string{"B", "C"}},
			},
		},
		{
			name: "direct cycle",
			tasks: []*Task{
				{ID: "A", Dependencies: []string{"B"}},
				{ID: "B", Dependencies: []string{"A"}},
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "self-loop",
			tasks: []*Task{
				{ID: "A", Dependencies: []string{"A"}},
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "dangling reference is ignored for ordering",
			tasks: []*Task{
				{ID: "A", Dependencies: []string{"ghost"}},
				{ID: "B", Dependencies: []string{"A"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag := mustDAG(t, tt.tasks...)
			order, err := dag.Order()

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got order %v", order)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(order) != len(tt.tasks) {
				t.Fatalf("order has %d tasks, want %d: %v", len(order), len(tt.tasks), order)
			}

			pos := make(map[string]int, len(order))
			for i, id := range order {
				pos[id] = i
			}
			for _, task := range tt.tasks {
				for _, dep := range task.Dependencies {
					if p, ok := pos[dep]; ok && p > pos[task.ID] {
						t.Errorf("%s ordered before its dependency %s", task.ID, dep)
					}
				}
			}
		})
	}
}

func TestNewDAGDuplicateID(t *testing.T) {
	_, err := NewDAG([]*Task{{ID: "A"}, {ID: "A"}})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}

// TestDAGRunnable tests which tasks become runnable as states change.
func TestDAGRunnable(t *testing.T) {
	now := time.Now()
	dag := mustDAG(t,
		&Task{ID: "t1"},
		&Task{ID: "t2", Dependencies: []string{"t1"}},
		&Task{ID: "t3", Dependencies: []string{"t1"}},
		&Task{ID: "t4", Dependencies: []string{"t2", "t3"}},
	)

	if got := ids(dag.Runnable()); !reflect.DeepEqual(got, []string{"t1"}) {
		t.Fatalf("initial runnable = %v, want [t1]", got)
	}

	_ = dag.MarkRunning("t1", now)
	if got := dag.Runnable(); len(got) != 0 {
		t.Fatalf("runnable while t1 running = %v, want none", ids(got))
	}

	_ = dag.MarkCompleted("t1", "r1", 1, now)
	if got := ids(dag.Runnable()); !reflect.DeepEqual(got, []string{"t2", "t3"}) {
		t.Fatalf("runnable after t1 = %v, want [t2 t3]", got)
	}

	_ = dag.MarkRunning("t2", now)
	_ = dag.MarkCompleted("t2", "r2", 1, now)
	if got := dag.Runnable(); !reflect.DeepEqual(ids(got), []string{"t3"}) {
		t.Fatalf("runnable with t3 pending = %v, want [t3]", ids(got))
	}

	_ = dag.MarkRunning("t3", now)
	_ = dag.MarkFailed("t3", errors.New("boom"), now)
	if got := dag.Runnable(); len(got) != 0 {
		t.Fatalf("t4 must not run after t3 failed, got %v", ids(got))
	}
}

// TestDAGMarkTransitions tests that only pending -> running -> terminal is allowed.
func TestDAGMarkTransitions(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		apply   func(d *DAG) error
		wantErr bool
	}{
		{
			name:  "pending to running",
			apply: func(d *DAG) error { return d.MarkRunning("A", now) },
		},
		{
			name: "running twice",
			apply: func(d *DAG) error {
				_ = d.MarkRunning("A", now)
				return d.MarkRunning("A", now)
			},
			wantErr: true,
		},
		{
			name:    "pending to completed",
			apply:   func(d *DAG) error { return d.MarkCompleted("A", "x", 1, now) },
			wantErr: true,
		},
		{
			name:    "pending to failed",
			apply:   func(d *DAG) error { return d.MarkFailed("A", errors.New("x"), now) },
			wantErr: true,
		},
		{
			name: "completed to failed",
			apply: func(d *DAG) error {
				_ = d.MarkRunning("A", now)
				_ = d.MarkCompleted("A", "x", 1, now)
				return d.MarkFailed("A", errors.New("late"), now)
			},
			wantErr: true,
		},
		{
			name:    "unknown task",
			apply:   func(d *DAG) error { return d.MarkRunning("missing", now) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag := mustDAG(t, &Task{ID: "A"})
			err := tt.apply(dag)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDAGMarkRecordsOutcome(t *testing.T) {
	start := time.Unix(100, 0)
	end := time.Unix(160, 0)
	dag := mustDAG(t, &Task{ID: "A"}, &Task{ID: "B"})

	_ = dag.MarkRunning("A", start)
	_ = dag.MarkCompleted("A", "done", 2, end)
	_ = dag.MarkRunning("B", start)
	_ = dag.MarkFailed("B", errors.New("agent not found"), end)

	a, _ := dag.Get("A")
	if a.State != TaskCompleted || a.Result != "done" || a.Iterations != 2 {
		t.Errorf("A = %+v", a)
	}
	if !a.StartTime.Equal(start) || !a.EndTime.Equal(end) {
		t.Errorf("A timestamps = %v..%v", a.StartTime, a.EndTime)
	}

	b, _ := dag.Get("B")
	if b.State != TaskFailed || b.Error != "agent not found" {
		t.Errorf("B = %+v", b)
	}

	c := dag.Counts()
	if c != (Counts{Total: 2, Completed: 1, Failed: 1}) {
		t.Errorf("counts = %+v", c)
	}
}

func TestDAGDependencyResults(t *testing.T) {
	now := time.Now()
	dag := mustDAG(t,
		&Task{ID: "t1", AgentID: "sp-01"},
		&Task{ID: "t2", AgentID: "cc-06"},
		&Task{ID: "t3", AgentID: "pm-07", Dependencies: []string{"t2", "t1"}},
	)
	for _, id := range []string{"t1", "t2"} {
		_ = dag.MarkRunning(id, now)
		_ = dag.MarkCompleted(id, "out-"+id, 1, now)
	}

	got := dag.DependencyResults("t3")
	want := []DependencyResult{
		{TaskID: "t2", AgentID: "cc-06", Result: "out-t2"},
		{TaskID: "t1", AgentID: "sp-01", Result: "out-t1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DependencyResults = %+v, want %+v", got, want)
	}
}

// TestDAGDiagnose tests deadlock classification.
func TestDAGDiagnose(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		tasks     []*Task
		fail      string
		wantCause DeadlockCause
		wantStuck []string
	}{
		{
			name: "cycle",
			tasks: []*Task{
				{ID: "A", Dependencies: []string{"B"}},
				{ID: "B", Dependencies: []string{"A"}},
			},
			wantCause: CauseCycle,
			wantStuck: []string{"A", "B"},
		},
		{
			name: "dangling",
			tasks: []*Task{
				{ID: "A", Dependencies: []string{"ghost"}},
			},
			wantCause: CauseDangling,
			wantStuck: []string{"A"},
		},
		{
			name: "failed upstream",
			tasks: []*Task{
				{ID: "A"},
				{ID: "B", Dependencies: []string{"A"}},
				{ID: "C", Dependencies: []string{"B"}},
			},
			fail:      "A",
			wantCause: CauseFailedUpstream,
			wantStuck: []string{"B", "C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag := mustDAG(t, tt.tasks...)
			if tt.fail != "" {
				_ = dag.MarkRunning(tt.fail, now)
				_ = dag.MarkFailed(tt.fail, errors.New("boom"), now)
			}

			dl := dag.Diagnose("p1")
			if dl == nil {
				t.Fatal("expected deadlock")
			}
			if dl.Cause != tt.wantCause {
				t.Errorf("cause = %s, want %s", dl.Cause, tt.wantCause)
			}
			if !reflect.DeepEqual(dl.Stuck, tt.wantStuck) {
				t.Errorf("stuck = %v, want %v", dl.Stuck, tt.wantStuck)
			}
			if !errors.Is(dl, ErrDeadlock) {
				t.Error("DeadlockError must match ErrDeadlock")
			}
		})
	}
}

func TestDAGDiagnoseNothingPending(t *testing.T) {
	dag := mustDAG(t, &Task{ID: "A"})
	_ = dag.MarkRunning("A", time.Now())
	_ = dag.MarkCompleted("A", "", 1, time.Now())
	if dl := dag.Diagnose("p1"); dl != nil {
		t.Errorf("unexpected deadlock %v", dl)
	}
}
