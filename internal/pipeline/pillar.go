package pipeline

import (
	"regexp"
	"strings"
	"time"

	"github.com/aristath/agentchain/internal/agent"
	"github.com/aristath/agentchain/internal/audit"
)

// Collections written by the pipeline.
const (
	CollectionPillars     = "pillars"
	CollectionPhaseLogs   = "phase_logs"
	CollectionReviewQueue = "review_queue"
)

// Phase is one step of a pillar run. Phases always execute in Phases order.
type Phase string

const (
	PhaseIntake    Phase = "INTAKE"
	PhaseResearch  Phase = "RESEARCH"
	PhaseSynthesis Phase = "SYNTHESIS"
	PhaseQuality   Phase = "QUALITY"
	PhasePublish   Phase = "PUBLISH"
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseIntake, PhaseResearch, PhaseSynthesis, PhaseQuality, PhasePublish}

// Status is the terminal outcome of a pillar run.
type Status string

const (
	StatusPublished Status = "published"
	StatusVetoed    Status = "vetoed"
)

// Risk levels filed with review queue entries.
const (
	RiskHigh   = "high"
	RiskMedium = "medium"
)

// Violation tags attached by the ethics gate.
const (
	ViolationUnethicalTopic = "UNETHICAL_TOPIC"
	ViolationSafetyBlock    = "SAFETY_BLOCK"
)

// VetoRecord explains why a gate terminated a run.
type VetoRecord struct {
	Reason     string   `json:"reason"`
	Phase      Phase    `json:"phase"`
	Violations []string `json:"violations"`
}

// Telemetry holds per-phase latency in milliseconds.
type Telemetry struct {
	Phases  map[Phase]int64 `json:"phases_ms"`
	TotalMS int64           `json:"total_ms"`
}

// Pillar is the terminal state of one run, persisted at its slug.
type Pillar struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	Slug       string              `json:"slug"`
	Status     Status              `json:"status"`
	Content    string              `json:"content,omitempty"`
	Grounding  string              `json:"grounding,omitempty"`
	Artifacts  map[agent.ID]string `json:"artifacts,omitempty"`
	Provenance []string            `json:"provenance"`
	Sources    []string            `json:"sources,omitempty"`
	Audit      *audit.Verdict      `json:"audit_report,omitempty"`
	Iterations int                 `json:"iterations,omitempty"`
	Veto       *VetoRecord         `json:"veto,omitempty"`
	Telemetry  Telemetry           `json:"telemetry"`
	Timestamp  time.Time           `json:"timestamp"`
}

// Vetoed reports whether a gate rejected the run.
func (p *Pillar) Vetoed() bool { return p.Status == StatusVetoed }

// PhaseLog is one entry of the append-only phase log.
type PhaseLog struct {
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// ReviewItem is filed for human follow-up whenever a run is vetoed.
type ReviewItem struct {
	RunID      string    `json:"run_id"`
	Slug       string    `json:"slug"`
	Topic      string    `json:"topic"`
	Phase      Phase     `json:"phase"`
	Reason     string    `json:"reason"`
	Violations []string  `json:"violations"`
	Risk       string    `json:"risk"`
	Score      *int      `json:"score,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives the storage key for a topic: lower case, runs of anything
// other than [a-z0-9] collapsed to a dash, no leading or trailing dash.
func Slug(topic string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(topic), "-"), "-")
}

// RiskLevel grades a quality veto for the review queue.
func RiskLevel(score, highBelow int) string {
	if score < highBelow {
		return RiskHigh
	}
	return RiskMedium
}

// ParseEthics inspects the grounder's reply. A reply whose first non-empty
// line starts with UNETHICAL_TOPIC disqualifies the topic; the text after the
// tag is the reason.
func ParseEthics(reply string) (reason string, disqualified bool) {
	first := strings.TrimSpace(reply)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = strings.TrimSpace(first[:i])
	}
	if !strings.HasPrefix(strings.ToUpper(first), ViolationUnethicalTopic) {
		return "", false
	}
	reason = strings.TrimSpace(strings.TrimLeft(first[len(ViolationUnethicalTopic):], ": "))
	if reason == "" {
		reason = "topic disqualified by ethics review"
	}
	return reason, true
}

// ParseSources collects "SOURCE: ..." lines from a grounding reply.
func ParseSources(reply string) []string {
	var out []string
	for line := range strings.Lines(reply) {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-* ")
		if len(line) > 7 && strings.EqualFold(line[:7], "SOURCE:") {
			if src := strings.TrimSpace(line[7:]); src != "" {
				out = append(out, src)
			}
		}
	}
	return out
}
