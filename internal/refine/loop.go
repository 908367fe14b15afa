// Package refine runs an agent in an execute, audit, re-execute cycle until
// its output passes the evaluator or the iteration cap is reached.
package refine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/agentchain/internal/agent"
	"github.com/aristath/agentchain/internal/audit"
	"github.com/aristath/agentchain/internal/events"
	"github.com/aristath/agentchain/internal/telemetry"
)

// Iteration is one audited output.
type Iteration struct {
	N       int           `json:"n"`
	Output  string        `json:"output"`
	Verdict audit.Verdict `json:"verdict"`
}

// Result reports the last output produced, whether or not it passed.
// Callers must check Passed (or Verdict) rather than assume success.
type Result struct {
	AgentID    agent.ID      `json:"agent_id"`
	Output     string        `json:"output"`
	Iterations int           `json:"iterations"`
	Verdict    audit.Verdict `json:"verdict"`
	Passed     bool          `json:"passed"`
	History    []Iteration   `json:"history"`
}

// Loop is the refinement loop.
type Loop struct {
	agents      agent.Resolver
	evaluator   audit.Evaluator
	bus         events.Broadcaster
	metrics     *telemetry.Metrics
	callTimeout time.Duration
	logger      *zap.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithCallTimeout bounds every agent call made by the loop.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Loop) { l.callTimeout = d }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a loop. bus may be nil.
func New(agents agent.Resolver, evaluator audit.Evaluator, bus events.Broadcaster, opts ...Option) *Loop {
	l := &Loop{
		agents:    agents,
		evaluator: evaluator,
		bus:       bus,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("refine")
	return l
}

// Refine executes the agent once, then audits and re-executes with the
// critique until the verdict passes targetScore or maxIterations executions
// have been made. maxIterations below 1 is treated as 1.
//
// On an agent error the partial result (last successful output) is returned
// together with the error.
func (l *Loop) Refine(ctx context.Context, id agent.ID, input string, maxIterations, targetScore int) (Result, error) {
	if maxIterations < 1 {
		maxIterations = 1
	}
	res := Result{AgentID: id}

	a, err := l.agents.Get(id)
	if err != nil {
		return res, err
	}

	log := l.logger.With(zap.String("agent_id", string(id)), zap.Int("target_score", targetScore))
	log.Info("refinement started", zap.Int("max_iterations", maxIterations))

	output, err := l.execute(ctx, a, input)
	if err != nil {
		return res, fmt.Errorf("initial execution: %w", err)
	}
	res.Output = output

	for res.Iterations < maxIterations {
		res.Iterations++
		l.calibrate(events.EventTypeRefineEvaluating, id, res.Iterations, audit.Verdict{}, "")

		v := l.evaluator.Audit(ctx, res.Output)
		res.Verdict = v
		res.History = append(res.History, Iteration{N: res.Iterations, Output: res.Output, Verdict: v})
		log.Info("iteration audited",
			zap.Int("iteration", res.Iterations),
			zap.Int("score", v.Score),
			zap.Bool("approved", v.Approved),
		)

		if v.Passes(targetScore) {
			res.Passed = true
			break
		}
		if res.Iterations >= maxIterations {
			break
		}

		critique := Critique(v)
		l.calibrate(events.EventTypeRefineRefining, id, res.Iterations, v, critique)

		output, err := l.execute(ctx, a, Prompt(res.Output, critique, input))
		if err != nil {
			l.done(id, res)
			return res, fmt.Errorf("refinement %d: %w", res.Iterations, err)
		}
		res.Output = output
	}

	l.done(id, res)
	log.Info("refinement finished",
		zap.Int("iterations", res.Iterations),
		zap.Int("score", res.Verdict.Score),
		zap.Bool("passed", res.Passed),
	)
	return res, nil
}

func (l *Loop) execute(ctx context.Context, a agent.Agent, prompt string) (string, error) {
	if l.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.callTimeout)
		defer cancel()
	}
	return a.Execute(ctx, prompt)
}

func (l *Loop) calibrate(eventType string, id agent.ID, n int, v audit.Verdict, critique string) {
	if l.bus == nil {
		return
	}
	l.bus.Broadcast(events.CalibrationEvent{
		Type:      eventType,
		AgentID:   string(id),
		Iteration: n,
		Score:     v.Score,
		Approved:  v.Approved,
		Critique:  critique,
		Timestamp: time.Now(),
	})
}

func (l *Loop) done(id agent.ID, res Result) {
	l.metrics.ObserveRefine(res.Iterations)
	l.calibrate(events.EventTypeRefineDone, id, res.Iterations, res.Verdict, "")
}

// Critique renders a verdict as the feedback block shown to the agent.
func Critique(v audit.Verdict) string {
	status := "REJECTED"
	if v.Approved {
		status = "APPROVED"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SCORE: %d/100 (%s)\n", v.Score, status)
	if v.Feedback != "" {
		fmt.Fprintf(&b, "FEEDBACK: %s\n", v.Feedback)
	}
	if len(v.Violations) > 0 {
		fmt.Fprintf(&b, "VIOLATIONS: %s\n", strings.Join(v.Violations, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Prompt builds the re-execution prompt from the previous output, the
// critique and the original input.
func Prompt(previous, critique, input string) string {
	return fmt.Sprintf(`YOUR PREVIOUS OUTPUT:
"%s"

AUDIT CRITIQUE:
%s

TASK: Refine your output to address every concern raised in the critique.
Maintain the original intent: "%s"`, previous, critique, input)
}
