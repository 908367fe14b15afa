package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/aristath/agentchain/internal/agent"
	"github.com/aristath/agentchain/internal/audit"
	"github.com/aristath/agentchain/internal/backend"
	"github.com/aristath/agentchain/internal/config"
	"github.com/aristath/agentchain/internal/events"
	"github.com/aristath/agentchain/internal/pipeline"
	"github.com/aristath/agentchain/internal/refine"
	"github.com/aristath/agentchain/internal/scheduler"
	"github.com/aristath/agentchain/internal/store"
	"github.com/aristath/agentchain/internal/telemetry"
)

// app holds the wired engine shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	procMgr  *backend.ProcessManager
	store    *store.SQLiteStore
	bus      *events.EventBus
	metrics  *telemetry.Metrics
	tracer   *sdktrace.TracerProvider
	nc       *nats.Conn
	agents   *agent.Registry
	refiner  *refine.Loop
	chains   *scheduler.ChainManager
	pipeline *pipeline.Pipeline
}

// newApp wires the engine from cfg. reg receives the engine metrics. The
// caller must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (_ *app, err error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		procMgr: backend.NewProcessManager(),
		bus:     events.NewEventBus(logger),
		metrics: telemetry.NewMetrics(reg),
		tracer:  telemetry.NewTracerProvider(),
	}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.store, err = store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	bus := a.metrics.Instrument(a.bus)
	if cfg.Events.NATSURL != "" {
		a.nc, err = nats.Connect(cfg.Events.NATSURL, nats.Name("agentchain"))
		if err != nil {
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		bridge := events.NewNATSBridge(a.nc, cfg.Events.SubjectPrefix, logger)
		go bridge.Run(ctx, a.bus.SubscribeAll(cfg.Events.Buffer))
		logger.Info("mirroring events to nats", zap.String("url", cfg.Events.NATSURL))
	}

	gens := agent.NewGenerators(cfg, a.procMgr, logger)
	a.agents = agent.NewRegistry(agent.ConfigFactory(cfg, gens), logger)

	evaluator, err := newEvaluator(cfg, gens, logger)
	if err != nil {
		return nil, err
	}
	tracer := telemetry.Tracer(a.tracer)

	a.refiner = refine.New(a.agents, evaluator, bus,
		refine.WithCallTimeout(cfg.Scheduler.CallTimeout.Duration()),
		refine.WithMetrics(a.metrics),
		refine.WithLogger(logger),
	)

	a.chains = scheduler.NewChainManager(scheduler.ConfigFrom(cfg), a.agents, bus,
		scheduler.WithStore(a.store),
		scheduler.WithRefiner(a.refiner),
		scheduler.WithMetrics(a.metrics),
		scheduler.WithTracer(tracer),
		scheduler.WithLogger(logger),
	)

	pcfg, err := pipeline.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	a.pipeline, err = pipeline.New(pcfg, a.agents, evaluator, a.store, bus,
		pipeline.WithRefiner(a.refiner),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithTracer(tracer),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newEvaluator grades content with the provider and model of the configured
// audit agent.
func newEvaluator(cfg *config.Config, gens *agent.Generators, logger *zap.Logger) (audit.Evaluator, error) {
	ac, ok := cfg.Agents[cfg.Audit.Agent]
	if !ok {
		return nil, fmt.Errorf("audit agent %q is not configured", cfg.Audit.Agent)
	}
	gen, err := gens.For(ac.Provider, ac.Model)
	if err != nil {
		return nil, fmt.Errorf("audit agent %q: %w", cfg.Audit.Agent, err)
	}
	return audit.NewGeneratorEvaluator(gen, cfg.Audit.Rubric, cfg.Scheduler.CallTimeout.Duration(), logger), nil
}

// close kills tracked subprocesses and releases everything newApp opened.
func (a *app) close(ctx context.Context) {
	if err := a.procMgr.KillAll(); err != nil {
		a.logger.Warn("failed to kill subprocesses", zap.Error(err))
	}
	a.bus.Close()
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("failed to drain nats connection", zap.Error(err))
		}
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to shut down tracer provider", zap.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}
