package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/agentchain/internal/events"
	"github.com/aristath/agentchain/internal/telemetry"
)

// BuildPrompt assembles the effective prompt for a task: its description,
// a labeled block per completed dependency, and an optional executive
// directive. Without dependencies the description is used as is.
func BuildPrompt(description string, deps []DependencyResult, directive string) string {
	prompt := description
	if len(deps) > 0 {
		blocks := make([]string, len(deps))
		for i, d := range deps {
			blocks[i] = fmt.Sprintf("RESULT FROM [%s]:\n%s", d.AgentID, d.Result)
		}
		prompt = "TASK: " + description + "\n\nDEPENDENCY CONTEXT:\n" + strings.Join(blocks, "\n\n")
	}
	if directive != "" {
		prompt += "\n\nEXECUTIVE DIRECTIVE:\n" + directive
	}
	return prompt
}

// executeTask runs one task of h. Failures are recorded on the task and
// never returned: a failed task does not abort its wave.
func (m *ChainManager) executeTask(ctx context.Context, h *Handle, task *Task) {
	start := time.Now()
	if err := h.dag.MarkRunning(task.ID, start); err != nil {
		m.logger.Error("refusing to dispatch task", zap.String("protocol_id", h.id), zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	log := m.logger.With(
		zap.String("protocol_id", h.id),
		zap.String("task_id", task.ID),
		zap.String("agent_id", string(task.AgentID)),
	)
	log.Info("task started")
	m.bus.Broadcast(events.TaskStartedEvent{
		ProtocolID: h.id,
		ID:         task.ID,
		AgentID:    string(task.AgentID),
		Timestamp:  start,
	})

	ctx, span := telemetry.StartSpan(ctx, m.tracer, "scheduler.task",
		"protocol_id", h.id, "task_id", task.ID, "agent_id", string(task.AgentID))

	result, iterations, err := m.invoke(ctx, h, task)
	end := time.Now()
	elapsed := end.Sub(start)
	telemetry.EndSpan(span, err)

	if err != nil {
		if markErr := h.dag.MarkFailed(task.ID, err, end); markErr != nil {
			log.Error("failed to record task failure", zap.Error(markErr))
		}
		log.Error("task failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		m.metrics.ObserveTask(string(task.AgentID), string(TaskFailed), elapsed)
		m.bus.Broadcast(events.TaskFailedEvent{
			ProtocolID: h.id,
			ID:         task.ID,
			AgentID:    string(task.AgentID),
			Error:      err.Error(),
			Duration:   elapsed,
			Timestamp:  end,
		})
		return
	}

	if markErr := h.dag.MarkCompleted(task.ID, result, iterations, end); markErr != nil {
		log.Error("failed to record task completion", zap.Error(markErr))
		return
	}
	log.Info("task completed", zap.Duration("elapsed", elapsed), zap.Int("iterations", iterations))
	m.metrics.ObserveTask(string(task.AgentID), string(TaskCompleted), elapsed)
	m.bus.Broadcast(events.TaskCompletedEvent{
		ProtocolID: h.id,
		ID:         task.ID,
		AgentID:    string(task.AgentID),
		Result:     result,
		Duration:   elapsed,
		Timestamp:  end,
	})
}

// invoke resolves the agent and calls it, through the refiner when the task
// has a target score. Returns the output and the number of executions.
func (m *ChainManager) invoke(ctx context.Context, h *Handle, task *Task) (string, int, error) {
	a, err := m.agents.Get(task.AgentID)
	if err != nil {
		return "", 0, err
	}

	directive, ok := m.interventions.Take(h.id, task.ID)
	if ok {
		m.bus.Broadcast(events.InterventionEvent{
			Type:       events.EventTypeInterventionUsed,
			ProtocolID: h.id,
			TaskID:     task.ID,
			Directive:  directive,
			Timestamp:  time.Now(),
		})
	}
	prompt := BuildPrompt(task.Description, h.dag.DependencyResults(task.ID), directive)

	if task.TargetScore > 0 && m.refiner != nil {
		res, err := m.refiner.Refine(ctx, task.AgentID, prompt, m.cfg.MaxIterations, task.TargetScore)
		if err != nil {
			return "", res.Iterations, err
		}
		return res.Output, res.Iterations, nil
	}

	if m.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()
	}
	out, err := a.Execute(ctx, prompt)
	if err != nil {
		return "", 1, err
	}
	return out, 1, nil
}
