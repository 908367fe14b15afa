// Package pipeline runs pillar runs: a fixed INTAKE, RESEARCH, SYNTHESIS,
// QUALITY, PUBLISH sequence for one topic with an ethics gate after research
// and a quality gate after synthesis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/agentchain/internal/agent"
	"github.com/aristath/agentchain/internal/audit"
	"github.com/aristath/agentchain/internal/backend"
	"github.com/aristath/agentchain/internal/config"
	"github.com/aristath/agentchain/internal/events"
	"github.com/aristath/agentchain/internal/refine"
	"github.com/aristath/agentchain/internal/store"
	"github.com/aristath/agentchain/internal/telemetry"
)

// ErrEmptyTopic is returned for topics that produce an empty slug.
var ErrEmptyTopic = errors.New("topic is empty")

// Refiner runs an agent through the refinement loop. *refine.Loop implements it.
type Refiner interface {
	Refine(ctx context.Context, id agent.ID, input string, maxIterations, targetScore int) (refine.Result, error)
}

// Config tunes a Pipeline.
type Config struct {
	Grounder         agent.ID   // Researches the topic and answers the ethics check
	SynthesisAgents  []agent.ID // Run concurrently; the first one's output is audited and published
	Auditor          agent.ID   // Recorded in provenance; grading goes through the Evaluator
	QualityThreshold int
	HighRiskBelow    int
	PhaseTimeout     time.Duration // Per collaborator call, 0 = unbounded
	Refine           bool          // Route the primary synthesis agent through the refiner
	MaxIterations    int
	TargetScore      int
}

// ConfigFrom derives pipeline settings from the loaded configuration.
func ConfigFrom(cfg *config.Config) (Config, error) {
	grounder, err := agent.ParseID(cfg.Pipeline.Grounder)
	if err != nil {
		return Config{}, fmt.Errorf("pipeline.grounder: %w", err)
	}
	var auditor agent.ID
	if cfg.Audit.Agent != "" {
		if auditor, err = agent.ParseID(cfg.Audit.Agent); err != nil {
			return Config{}, fmt.Errorf("audit.agent: %w", err)
		}
	}
	synth := make([]agent.ID, 0, len(cfg.Pipeline.SynthesisAgents))
	for _, s := range cfg.Pipeline.SynthesisAgents {
		id, err := agent.ParseID(s)
		if err != nil {
			return Config{}, fmt.Errorf("pipeline.synthesis_agents: %w", err)
		}
		synth = append(synth, id)
	}
	return Config{
		Grounder:         grounder,
		SynthesisAgents:  synth,
		Auditor:          auditor,
		QualityThreshold: cfg.Pipeline.QualityThreshold,
		HighRiskBelow:    cfg.Pipeline.HighRiskBelow,
		PhaseTimeout:     cfg.Pipeline.PhaseTimeout.Duration(),
		Refine:           cfg.Pipeline.Refine,
		MaxIterations:    cfg.Refine.MaxIterations,
		TargetScore:      cfg.Refine.TargetScore,
	}, nil
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRefiner enables refinement of the primary synthesis agent when
// Config.Refine is set.
func WithRefiner(r Refiner) Option {
	return func(p *Pipeline) { p.refiner = r }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pipeline executes pillar runs. Runs of different topics proceed
// concurrently; runs of the same slug are serialized.
type Pipeline struct {
	cfg       Config
	agents    agent.Resolver
	evaluator audit.Evaluator
	store     store.Store
	bus       events.Broadcaster
	refiner   Refiner
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
	locks     *SlugLocks
}

// New creates a pipeline. A nil store skips persistence; a nil bus discards
// events.
func New(cfg Config, agents agent.Resolver, evaluator audit.Evaluator, st store.Store, bus events.Broadcaster, opts ...Option) (*Pipeline, error) {
	if !cfg.Grounder.Valid() {
		return nil, fmt.Errorf("%w: grounder %q", agent.ErrUnknownID, cfg.Grounder)
	}
	if len(cfg.SynthesisAgents) == 0 {
		return nil, errors.New("pipeline needs at least one synthesis agent")
	}
	if bus == nil {
		bus = events.Discard
	}
	p := &Pipeline{
		cfg:       cfg,
		agents:    agents,
		evaluator: evaluator,
		store:     st,
		bus:       bus,
		logger:    zap.NewNop(),
		locks:     NewSlugLocks(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = telemetry.Tracer(nil)
	}
	p.logger = p.logger.Named("pipeline")
	return p, nil
}

// run is the in-memory state of one pillar run.
type run struct {
	started    time.Time
	phaseStart time.Time
	phases     map[Phase]time.Duration
	pillar     *Pillar
	log        *zap.Logger
}

func (r *run) veto(phase Phase, reason string, violations ...string) {
	if violations == nil {
		violations = []string{}
	}
	r.pillar.Status = StatusVetoed
	r.pillar.Veto = &VetoRecord{Reason: reason, Phase: phase, Violations: violations}
}

// Run executes every phase for topic. A gate rejection is not an error: the
// returned pillar has StatusVetoed and a VetoRecord. Errors are reserved for
// collaborator failures that are neither vetoes nor recoverable.
func (p *Pipeline) Run(ctx context.Context, topic string) (*Pillar, error) {
	topic = strings.TrimSpace(topic)
	slug := Slug(topic)
	if slug == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptyTopic, topic)
	}

	p.locks.Lock(slug)
	defer p.locks.Unlock(slug)

	id := "run_" + uuid.NewString()[:8]
	r := &run{
		started: time.Now(),
		phases:  make(map[Phase]time.Duration, len(Phases)),
		pillar: &Pillar{
			ID:         id,
			Title:      topic,
			Slug:       slug,
			Artifacts:  make(map[agent.ID]string),
			Provenance: []string{},
		},
		log: p.logger.With(zap.String("run_id", id), zap.String("slug", slug)),
	}

	ctx, span := telemetry.StartSpan(ctx, p.tracer, "pipeline.run",
		"run_id", id, "topic", topic, "slug", slug)
	pillar, err := p.execute(ctx, r)
	if pillar != nil {
		span.SetAttributes(attribute.String("status", string(pillar.Status)))
	}
	telemetry.EndSpan(span, err)
	return pillar, err
}

func (p *Pipeline) execute(ctx context.Context, r *run) (*Pillar, error) {
	r.log.Info("pillar run started", zap.String("topic", r.pillar.Title))

	steps := []struct {
		phase   Phase
		message string
		fn      func(context.Context, *run) error
	}{
		{PhaseIntake, "Pillar run initialized for: " + r.pillar.Title, p.intake},
		{PhaseResearch, "Grounding topic and running ethics review", p.research},
		{PhaseSynthesis, "Synthesizing content", p.synthesize},
		{PhaseQuality, "Running compliance audit", p.quality},
		{PhasePublish, "Publishing pillar", p.publish},
	}
	for _, s := range steps {
		if err := p.phase(ctx, r, s.phase, s.message, s.fn); err != nil {
			p.finish(r, "failed")
			return nil, fmt.Errorf("pillar run %s: %s: %w", r.pillar.ID, s.phase, err)
		}
		if r.pillar.Veto != nil {
			p.vetoed(ctx, r)
			return r.pillar, nil
		}
	}

	p.finish(r, string(StatusPublished))
	return r.pillar, nil
}

// phase runs fn as phase, logging entry and outcome and recording latency.
func (p *Pipeline) phase(ctx context.Context, r *run, phase Phase, message string, fn func(context.Context, *run) error) error {
	ctx, span := telemetry.StartSpan(ctx, p.tracer, "pipeline."+strings.ToLower(string(phase)),
		"run_id", r.pillar.ID, "phase", string(phase))

	start := time.Now()
	r.phaseStart = start
	r.log.Debug("phase entered", zap.String("phase", string(phase)))
	p.appendLog(ctx, r, phase, "info", message)
	p.bus.Broadcast(events.PhaseEvent{
		RunID:     r.pillar.ID,
		Subject:   r.pillar.Title,
		Phase:     string(phase),
		Message:   message,
		Elapsed:   time.Since(r.started),
		Timestamp: start,
	})

	err := fn(ctx, r)

	d := time.Since(start)
	r.phases[phase] = d
	p.metrics.ObservePhase(string(phase), d)

	switch {
	case err != nil:
		r.log.Error("phase failed", zap.String("phase", string(phase)), zap.Error(err))
		p.appendLog(ctx, r, phase, "error", err.Error())
	case r.pillar.Veto != nil:
		span.SetAttributes(attribute.Bool("vetoed", true))
		p.appendLog(ctx, r, phase, "error", "VETO: "+r.pillar.Veto.Reason)
	default:
		p.appendLog(ctx, r, phase, "success", string(phase)+" complete")
	}
	telemetry.EndSpan(span, err)
	return err
}

func (p *Pipeline) intake(context.Context, *run) error { return nil }

// research grounds the topic through the grounder, which also answers the
// ethics check. A safety-policy refusal counts as a veto.
func (p *Pipeline) research(ctx context.Context, r *run) error {
	a, err := p.agents.Get(p.cfg.Grounder)
	if err != nil {
		return err
	}

	reply, err := p.call(ctx, a, GroundingPrompt(r.pillar.Title))
	if errors.Is(err, backend.ErrBlocked) {
		r.veto(PhaseResearch, "grounding request blocked by provider safety policy", ViolationSafetyBlock)
		return nil
	}
	if err != nil {
		return fmt.Errorf("grounding: %w", err)
	}
	if reason, bad := ParseEthics(reply); bad {
		r.veto(PhaseResearch, reason, ViolationUnethicalTopic)
		return nil
	}

	grounding := strings.TrimSpace(reply)
	if rest, ok := strings.CutPrefix(grounding, "PROCEED"); ok {
		grounding = strings.TrimSpace(rest)
	}
	r.pillar.Grounding = grounding
	r.pillar.Sources = ParseSources(grounding)
	r.pillar.Provenance = append(r.pillar.Provenance, string(p.cfg.Grounder))
	return nil
}

// synthesize runs every synthesis agent concurrently on the grounded brief
// and joins them before quality.
func (p *Pipeline) synthesize(ctx context.Context, r *run) error {
	prompt := SynthesisPrompt(r.pillar.Title, r.pillar.Grounding)
	outputs := make([]string, len(p.cfg.SynthesisAgents))
	iterations := 1

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range p.cfg.SynthesisAgents {
		g.Go(func() error {
			if i == 0 && p.cfg.Refine && p.refiner != nil {
				res, err := p.refiner.Refine(gctx, id, prompt, p.cfg.MaxIterations, p.cfg.TargetScore)
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				outputs[i] = res.Output
				iterations = res.Iterations
				return nil
			}

			a, err := p.agents.Get(id)
			if err != nil {
				return err
			}
			out, err := p.call(gctx, a, prompt)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, id := range p.cfg.SynthesisAgents {
		r.pillar.Artifacts[id] = outputs[i]
		r.pillar.Provenance = append(r.pillar.Provenance, string(id))
	}
	r.pillar.Content = outputs[0]
	r.pillar.Iterations = iterations
	return nil
}

// quality audits the primary artifact. The evaluator never fails; a
// fail-open verdict is logged and judged like any other.
func (p *Pipeline) quality(ctx context.Context, r *run) error {
	if p.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PhaseTimeout)
		defer cancel()
	}

	v := p.evaluator.Audit(ctx, r.pillar.Content)
	r.pillar.Audit = &v
	if p.cfg.Auditor != "" {
		r.pillar.Provenance = append(r.pillar.Provenance, string(p.cfg.Auditor))
	}
	if v.FailedOpen() {
		r.log.Warn("quality gate judged a fail-open verdict", zap.Int("score", v.Score))
	}
	if v.Passes(p.cfg.QualityThreshold) {
		return nil
	}

	reason := strings.TrimSpace(v.Feedback)
	if reason == "" {
		reason = fmt.Sprintf("audit rejected content (score %d, threshold %d)", v.Score, p.cfg.QualityThreshold)
	}
	r.veto(PhaseQuality, reason, v.Violations...)
	return nil
}

func (p *Pipeline) publish(ctx context.Context, r *run) error {
	r.pillar.Status = StatusPublished
	r.pillar.Timestamp = time.Now()
	r.phases[PhasePublish] = time.Since(r.phaseStart)
	r.pillar.Telemetry = r.telemetry()
	p.put(ctx, r.pillar)
	r.log.Info("pillar published", zap.Strings("provenance", r.pillar.Provenance))
	return nil
}

// vetoed persists the partial pillar and files it for review.
func (p *Pipeline) vetoed(ctx context.Context, r *run) {
	veto := r.pillar.Veto
	r.pillar.Timestamp = time.Now()
	r.pillar.Telemetry = r.telemetry()
	r.log.Warn("pillar vetoed",
		zap.String("phase", string(veto.Phase)),
		zap.String("reason", veto.Reason),
		zap.Strings("violations", veto.Violations),
	)

	p.put(ctx, r.pillar)

	item := ReviewItem{
		RunID:      r.pillar.ID,
		Slug:       r.pillar.Slug,
		Topic:      r.pillar.Title,
		Phase:      veto.Phase,
		Reason:     veto.Reason,
		Violations: veto.Violations,
		Risk:       RiskHigh,
		Status:     "pending_audit",
		CreatedAt:  r.pillar.Timestamp,
	}
	if veto.Phase == PhaseQuality && r.pillar.Audit != nil {
		score := r.pillar.Audit.Score
		item.Score = &score
		item.Risk = RiskLevel(score, p.cfg.HighRiskBelow)
	}
	p.appendDoc(ctx, CollectionReviewQueue, item)

	p.metrics.ObserveVeto(string(veto.Phase))
	p.bus.Broadcast(events.VetoEvent{
		RunID:      r.pillar.ID,
		Subject:    r.pillar.Title,
		Phase:      string(veto.Phase),
		Reason:     veto.Reason,
		Violations: veto.Violations,
		Timestamp:  r.pillar.Timestamp,
	})
	p.finish(r, string(StatusVetoed))
}

// finish records the outcome metric and broadcasts the telemetry snapshot.
func (p *Pipeline) finish(r *run, status string) {
	total := time.Since(r.started)
	p.metrics.ObservePillar(status)
	r.log.Info("pillar run finished", zap.String("status", status), zap.Duration("total", total))

	phases := make(map[string]time.Duration, len(r.phases))
	for ph, d := range r.phases {
		phases[string(ph)] = d
	}
	p.bus.Broadcast(events.TelemetryEvent{
		RunID:     r.pillar.ID,
		Status:    status,
		Phases:    phases,
		Total:     total,
		Timestamp: time.Now(),
	})
}

func (r *run) telemetry() Telemetry {
	t := Telemetry{Phases: make(map[Phase]int64, len(r.phases))}
	for ph, d := range r.phases {
		t.Phases[ph] = d.Milliseconds()
	}
	t.TotalMS = time.Since(r.started).Milliseconds()
	return t
}

func (p *Pipeline) call(ctx context.Context, a agent.Agent, prompt string) (string, error) {
	if p.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PhaseTimeout)
		defer cancel()
	}
	return a.Execute(ctx, prompt)
}

// Get returns the pillar last persisted for slug.
func (p *Pipeline) Get(ctx context.Context, slug string) (*Pillar, error) {
	if p.store == nil {
		return nil, store.ErrNotFound
	}
	var pillar Pillar
	if err := p.store.Get(ctx, CollectionPillars, slug, &pillar); err != nil {
		return nil, err
	}
	return &pillar, nil
}

// Persistence is best effort: failures are logged and never fail a run.

func (p *Pipeline) put(ctx context.Context, pillar *Pillar) {
	if p.store == nil {
		return
	}
	ctx, cancel := persistContext(ctx)
	defer cancel()
	if err := p.store.Put(ctx, CollectionPillars, pillar.Slug, pillar); err != nil {
		p.logger.Error("failed to persist pillar", zap.String("slug", pillar.Slug), zap.Error(err))
	}
}

func (p *Pipeline) appendLog(ctx context.Context, r *run, phase Phase, severity, message string) {
	p.appendDoc(ctx, CollectionPhaseLogs, PhaseLog{
		RunID:     r.pillar.ID,
		Phase:     phase,
		Severity:  severity,
		Message:   fmt.Sprintf("[%s] %s", phase, message),
		LatencyMS: time.Since(r.started).Milliseconds(),
		Timestamp: time.Now(),
	})
}

func (p *Pipeline) appendDoc(ctx context.Context, collection string, doc any) {
	if p.store == nil {
		return
	}
	ctx, cancel := persistContext(ctx)
	defer cancel()
	if _, err := p.store.Append(ctx, collection, doc); err != nil {
		p.logger.Error("failed to append document", zap.String("collection", collection), zap.Error(err))
	}
}

func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

// GroundingPrompt asks the grounder to research topic and to disqualify it
// first if producing content on it would be unethical.
func GroundingPrompt(topic string) string {
	return fmt.Sprintf(`TOPIC: %s

ETHICS CHECK: if producing content on this topic would be unethical, unlawful or deceptive, reply with exactly one line:
UNETHICAL_TOPIC: <reason>
Otherwise start your reply with PROCEED on its own line.

RESEARCH: report verified facts, figures and market context for the topic. List each source on its own line as:
SOURCE: <url or citation>`, topic)
}

// SynthesisPrompt asks a creative agent for its artifact on the grounded brief.
func SynthesisPrompt(topic, grounding string) string {
	return fmt.Sprintf("TOPIC: %s\n\nGROUNDED RESEARCH:\n%s\n\nTASK: Produce your deliverable for this topic. Use only claims supported by the research above.", topic, grounding)
}
