// Package scheduler executes protocols: graphs of agent tasks run in
// dependency order with each wave of runnable tasks dispatched in parallel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/agentchain/internal/agent"
	"github.com/aristath/agentchain/internal/config"
	"github.com/aristath/agentchain/internal/events"
	"github.com/aristath/agentchain/internal/refine"
	"github.com/aristath/agentchain/internal/store"
	"github.com/aristath/agentchain/internal/telemetry"
)

// CollectionProtocols holds finished protocol snapshots keyed by id.
const CollectionProtocols = "protocols"

var (
	ErrProtocolNotFound  = errors.New("protocol not found")
	ErrDuplicateProtocol = errors.New("protocol already running")
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskNotPending    = errors.New("task is not pending")
	ErrProtocolFinished  = errors.New("protocol already finished")
)

// DefaultMaxFinished is the number of finished protocols kept in memory when
// Config.MaxFinished is unset.
const DefaultMaxFinished = 100

// Refiner runs an agent through the refinement loop. *refine.Loop implements it.
type Refiner interface {
	Refine(ctx context.Context, id agent.ID, input string, maxIterations, targetScore int) (refine.Result, error)
}

// Config tunes a ChainManager.
type Config struct {
	Concurrency   int           // Max tasks in flight per wave, 0 = unlimited
	PollInterval  time.Duration // Upper bound on a paused or in-flight wait
	CallTimeout   time.Duration // Per agent call, 0 = unbounded
	MaxIterations int           // Refinement cap for tasks with a target score
	MaxFinished   int           // Finished handles kept for Get and List; older ones are evicted
}

// ConfigFrom derives scheduler settings from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Concurrency:   cfg.Scheduler.Concurrency,
		PollInterval:  cfg.Scheduler.PollInterval.Duration(),
		CallTimeout:   cfg.Scheduler.CallTimeout.Duration(),
		MaxIterations: cfg.Refine.MaxIterations,
		MaxFinished:   cfg.Scheduler.MaxFinished,
	}
}

// Option configures a ChainManager.
type Option func(*ChainManager)

// WithStore persists a snapshot of every finished protocol.
func WithStore(s store.Store) Option {
	return func(m *ChainManager) { m.store = s }
}

// WithRefiner routes tasks that carry a target score through r.
func WithRefiner(r Refiner) Option {
	return func(m *ChainManager) { m.refiner = r }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *ChainManager) { m.metrics = metrics }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *ChainManager) { m.tracer = t }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *ChainManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// ChainManager runs any number of protocols concurrently, each with its own
// tick loop.
type ChainManager struct {
	cfg           Config
	agents        agent.Resolver
	bus           events.Broadcaster
	store         store.Store
	refiner       Refiner
	metrics       *telemetry.Metrics
	tracer        trace.Tracer
	logger        *zap.Logger
	interventions *Interventions

	mu   sync.RWMutex
	runs map[string]*Handle
}

// NewChainManager creates a manager that resolves agents through agents and
// publishes state transitions on bus (nil discards them).
func NewChainManager(cfg Config, agents agent.Resolver, bus events.Broadcaster, opts ...Option) *ChainManager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxFinished <= 0 {
		cfg.MaxFinished = DefaultMaxFinished
	}
	if bus == nil {
		bus = events.Discard
	}
	m := &ChainManager{
		cfg:           cfg,
		agents:        agents,
		bus:           bus,
		logger:        zap.NewNop(),
		interventions: NewInterventions(),
		runs:          make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = telemetry.Tracer(nil)
	}
	m.logger = m.logger.Named("scheduler")
	return m
}

// Submit validates p and starts running it in the background. ctx bounds the
// whole run; cancelling it fails the protocol once in-flight calls return.
// The manager takes ownership of p's tasks; read state through the handle.
func (m *ChainManager) Submit(ctx context.Context, p *Protocol) (*Handle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.reset(time.Now())

	dag, err := NewDAG(p.Tasks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProtocol, err)
	}

	h := &Handle{
		m:         m,
		id:        p.ID,
		goal:      p.Goal,
		createdAt: p.CreatedAt,
		dag:       dag,
		status:    ProtocolActive,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	if prev, ok := m.runs[p.ID]; ok && !prev.finished() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateProtocol, p.ID)
	}
	m.runs[p.ID] = h
	m.mu.Unlock()

	go m.run(ctx, h)
	return h, nil
}

// Run submits p and waits for it to finish.
func (m *ChainManager) Run(ctx context.Context, p *Protocol) (*Protocol, error) {
	h, err := m.Submit(ctx, p)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Get returns the handle of a submitted protocol.
func (m *ChainManager) Get(id string) (*Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProtocolNotFound, id)
	}
	return h, nil
}

// Lookup returns a snapshot of a protocol, falling back to the store for
// protocols no longer held in memory.
func (m *ChainManager) Lookup(ctx context.Context, id string) (*Protocol, error) {
	if h, err := m.Get(id); err == nil {
		return h.Snapshot(), nil
	} else if m.store == nil {
		return nil, err
	}

	var p Protocol
	err := m.store.Get(ctx, CollectionProtocols, id, &p)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrProtocolNotFound, id)
	case err != nil:
		return nil, fmt.Errorf("failed to load protocol %s: %w", id, err)
	}
	return &p, nil
}

// List returns snapshots of every submitted protocol, oldest first.
func (m *ChainManager) List() []*Protocol {
	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.runs))
	for _, h := range m.runs {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	out := make([]*Protocol, len(handles))
	for i, h := range handles {
		out[i] = h.Snapshot()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Pause suspends dispatch of new tasks for a protocol.
func (m *ChainManager) Pause(id string) (bool, error) {
	h, err := m.Get(id)
	if err != nil {
		return false, err
	}
	return h.Pause(), nil
}

// Resume re-enables dispatch for a paused protocol.
func (m *ChainManager) Resume(id string) (bool, error) {
	h, err := m.Get(id)
	if err != nil {
		return false, err
	}
	return h.Resume(), nil
}

// Intervene attaches an executive directive to a task that has not been
// dispatched yet. The directive is appended to that task's prompt once.
func (m *ChainManager) Intervene(protocolID, taskID, directive string) error {
	h, err := m.Get(protocolID)
	if err != nil {
		return err
	}
	// Checked under the queue lock: a dispatch marks its task running before
	// it takes the directive, and a finished run drops its directives.
	err = m.interventions.AddIf(protocolID, taskID, directive, func() error {
		return m.checkIntervention(h, taskID)
	})
	if err != nil {
		return err
	}

	m.logger.Info("intervention queued",
		zap.String("protocol_id", protocolID),
		zap.String("task_id", taskID),
	)
	m.bus.Broadcast(events.InterventionEvent{
		Type:       events.EventTypeInterventionQueued,
		ProtocolID: protocolID,
		TaskID:     taskID,
		Directive:  directive,
		Timestamp:  time.Now(),
	})
	return nil
}

func (m *ChainManager) checkIntervention(h *Handle, taskID string) error {
	if status := h.Status(); status.Finished() {
		return fmt.Errorf("%w: %s is %s", ErrProtocolFinished, h.id, status)
	}
	task, ok := h.dag.Get(taskID)
	if !ok {
		return fmt.Errorf("%w: %q in protocol %s", ErrTaskNotFound, taskID, h.id)
	}
	if task.State != TaskPending {
		return fmt.Errorf("%w: %s is %s", ErrTaskNotPending, taskID, task.State)
	}
	return nil
}

// run is the tick loop of one protocol.
func (m *ChainManager) run(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer m.interventions.Drop(h.id)

	log := m.logger.With(zap.String("protocol_id", h.id))
	log.Info("protocol activated", zap.String("goal", h.goal), zap.Int("tasks", h.dag.Counts().Total))
	m.broadcastStatus(h, events.EventTypeProtocolActivated)

	for {
		if err := ctx.Err(); err != nil {
			m.finish(ctx, h, fmt.Errorf("protocol %s cancelled: %w", h.id, err))
			return
		}

		if resumed := h.pausedWait(); resumed != nil {
			select {
			case <-resumed:
			case <-ctx.Done():
			case <-time.After(m.cfg.PollInterval):
			}
			continue
		}

		runnable := h.dag.Runnable()
		if len(runnable) == 0 {
			counts := h.dag.Counts()
			switch {
			case counts.Running > 0:
				// Waves are joined, so this only covers a dispatch that
				// outlived its wave.
				select {
				case <-ctx.Done():
				case <-time.After(m.cfg.PollInterval):
				}
				continue
			case counts.Pending > 0:
				dl := h.dag.Diagnose(h.id)
				log.Error("deadlock detected", zap.String("cause", string(dl.Cause)), zap.Strings("stuck", dl.Stuck))
				m.finish(ctx, h, dl)
				return
			default:
				m.finish(ctx, h, nil)
				return
			}
		}

		m.dispatchWave(ctx, h, runnable)
		m.broadcastProgress(h)
	}
}

// dispatchWave runs every runnable task concurrently and waits for all of
// them. Task errors are recorded in the DAG, not returned here.
func (m *ChainManager) dispatchWave(ctx context.Context, h *Handle, runnable []*Task) {
	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.Concurrency > 0 {
		g.SetLimit(m.cfg.Concurrency)
	}
	for _, task := range runnable {
		g.Go(func() error {
			m.executeTask(gctx, h, task)
			return nil
		})
	}
	_ = g.Wait()
}

// finish records the terminal status, persists a snapshot and announces it.
func (m *ChainManager) finish(ctx context.Context, h *Handle, err error) {
	status := ProtocolCompleted
	if err != nil {
		status = ProtocolFailed
	}
	h.complete(status, err)
	snap := h.Snapshot()

	log := m.logger.With(zap.String("protocol_id", h.id), zap.String("status", string(status)))
	if err != nil {
		log.Error("protocol failed", zap.Error(err))
	} else {
		log.Info("protocol finished")
	}

	m.persist(ctx, snap)
	m.evictFinished()
	m.metrics.ObserveProtocol(string(status))

	eventType := events.EventTypeProtocolFinished
	if status == ProtocolFailed {
		eventType = events.EventTypeProtocolFailed
	}
	m.bus.Broadcast(events.ProtocolEvent{
		Type:       eventType,
		ProtocolID: snap.ID,
		Goal:       snap.Goal,
		Status:     string(snap.Status),
		Stuck:      snap.Stuck,
		Error:      snap.Error,
		Timestamp:  time.Now(),
	})
}

// persist is best effort: a store failure never fails the protocol.
func (m *ChainManager) persist(ctx context.Context, snap *Protocol) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.store.Put(ctx, CollectionProtocols, snap.ID, snap); err != nil {
		m.logger.Error("failed to persist protocol", zap.String("protocol_id", snap.ID), zap.Error(err))
	}
}

// evictFinished drops the oldest finished handles beyond cfg.MaxFinished.
// Their snapshots remain in the store.
func (m *ChainManager) evictFinished() {
	type ended struct {
		id string
		at time.Time
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var done []ended
	for id, h := range m.runs {
		if at, ok := h.endedAt(); ok {
			done = append(done, ended{id, at})
		}
	}
	if len(done) <= m.cfg.MaxFinished {
		return
	}
	sort.Slice(done, func(i, j int) bool { return done[i].at.Before(done[j].at) })
	for _, e := range done[:len(done)-m.cfg.MaxFinished] {
		delete(m.runs, e.id)
	}
	m.logger.Debug("evicted finished protocols", zap.Int("count", len(done)-m.cfg.MaxFinished))
}

func (m *ChainManager) broadcastStatus(h *Handle, eventType string) {
	m.bus.Broadcast(events.ProtocolEvent{
		Type:       eventType,
		ProtocolID: h.id,
		Goal:       h.goal,
		Status:     string(h.Status()),
		Timestamp:  time.Now(),
	})
}

func (m *ChainManager) broadcastProgress(h *Handle) {
	c := h.dag.Counts()
	m.bus.Broadcast(events.ProgressEvent{
		ProtocolID: h.id,
		Total:      c.Total,
		Completed:  c.Completed,
		Running:    c.Running,
		Failed:     c.Failed,
		Pending:    c.Pending,
		Timestamp:  time.Now(),
	})
}
