// Package audit scores content against a compliance rubric.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/agentchain/internal/backend"
)

// FailTag marks a verdict produced because the evaluator itself failed.
const FailTag = "AUDIT_FAIL"

// Verdict is the evaluator's judgement. Score and Approved are independent:
// an approved verdict may still score below a caller's threshold.
type Verdict struct {
	Score      int      `json:"score"`
	Approved   bool     `json:"approved"`
	Feedback   string   `json:"feedback"`
	Violations []string `json:"violations"`
}

// Passes is the single gate rule used everywhere: approved and at or above
// the threshold.
func (v Verdict) Passes(threshold int) bool {
	return v.Approved && v.Score >= threshold
}

// FailedOpen reports whether the verdict is the fail-open default.
func (v Verdict) FailedOpen() bool {
	return slices.Contains(v.Violations, FailTag)
}

// FailOpen is returned when evaluation fails: evaluable but flagged.
func FailOpen() Verdict {
	return Verdict{
		Score:      50,
		Approved:   true,
		Feedback:   "Audit engine encountered a transient error.",
		Violations: []string{FailTag},
	}
}

// Evaluator scores content. Implementations never fail; they degrade to
// FailOpen and log instead.
type Evaluator interface {
	Audit(ctx context.Context, content string) Verdict
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, content string) Verdict

func (f EvaluatorFunc) Audit(ctx context.Context, content string) Verdict { return f(ctx, content) }

// DefaultRubric is the compliance rubric sent with every audit.
const DefaultRubric = `IDENTITY: You are the compliance and quality gate.
CRITERIA:
1. Policy: no unlawful, deceptive or discriminatory claims.
2. Structure: clear headings, coherent argument, no filler.
3. Brand voice: precise, confident, free of hype.
4. Grounding: every factual claim is plausible and attributable.

OUTPUT FORMAT: JSON only
{
  "score": number (0-100),
  "approved": boolean,
  "feedback": "detailed reasoning",
  "violations": ["list or empty"]
}`

// GeneratorEvaluator asks a generator to grade content against a rubric and
// parses the JSON verdict from its reply.
type GeneratorEvaluator struct {
	gen     backend.Generator
	rubric  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGeneratorEvaluator creates an evaluator. An empty rubric uses
// DefaultRubric; a zero timeout leaves the call unbounded.
func NewGeneratorEvaluator(gen backend.Generator, rubric string, timeout time.Duration, logger *zap.Logger) *GeneratorEvaluator {
	if rubric == "" {
		rubric = DefaultRubric
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeneratorEvaluator{gen: gen, rubric: rubric, timeout: timeout, logger: logger.Named("audit")}
}

// Audit grades content. Any generator or parse failure is logged as
// AUDIT_FAIL and yields FailOpen.
func (e *GeneratorEvaluator) Audit(ctx context.Context, content string) Verdict {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	reply, err := e.gen.Generate(ctx, e.rubric+"\n\nCONTENT TO AUDIT:\n"+content)
	if err == nil {
		var v Verdict
		if v, err = ParseVerdict(reply); err == nil {
			e.logger.Debug("audit complete",
				zap.Int("score", v.Score),
				zap.Bool("approved", v.Approved),
				zap.Strings("violations", v.Violations),
			)
			return v
		}
	}

	e.logger.Error(FailTag, zap.Int("content_length", len(content)), zap.Error(err))
	return FailOpen()
}

var errNoJSON = errors.New("no JSON object in evaluator reply")

// ParseVerdict extracts the verdict object from a model reply, tolerating
// markdown fences and surrounding prose. Scores are clamped to 0-100.
func ParseVerdict(reply string) (Verdict, error) {
	s := strings.ReplaceAll(reply, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return Verdict{}, errNoJSON
	}

	var raw struct {
		Score      *float64 `json:"score"`
		Approved   *bool    `json:"approved"`
		Feedback   string   `json:"feedback"`
		Violations []string `json:"violations"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if raw.Score == nil || raw.Approved == nil {
		return Verdict{}, errors.New("verdict missing score or approved")
	}

	// Clamp before converting: out-of-range floats overflow int.
	score := int(max(0, min(100, *raw.Score)) + 0.5)
	violations := raw.Violations
	if violations == nil {
		violations = []string{}
	}
	return Verdict{
		Score:      score,
		Approved:   *raw.Approved,
		Feedback:   raw.Feedback,
		Violations: violations,
	}, nil
}
