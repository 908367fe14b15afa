// Package server provides the HTTP API for agentchain.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aristath/agentchain/internal/agent"
	"github.com/aristath/agentchain/internal/config"
	"github.com/aristath/agentchain/internal/events"
	"github.com/aristath/agentchain/internal/pipeline"
	"github.com/aristath/agentchain/internal/refine"
	"github.com/aristath/agentchain/internal/scheduler"
)

// Pillars runs and looks up pillar runs. *pipeline.Pipeline implements it.
type Pillars interface {
	Run(ctx context.Context, topic string) (*pipeline.Pillar, error)
	Get(ctx context.Context, slug string) (*pipeline.Pillar, error)
}

// Refiner runs one agent through the refinement loop. *refine.Loop implements it.
type Refiner interface {
	Refine(ctx context.Context, id agent.ID, input string, maxIterations, targetScore int) (refine.Result, error)
}

// Subscriber is the subscribing side of the event bus. *events.EventBus implements it.
type Subscriber interface {
	Subscribe(topic string, bufSize int) <-chan events.Event
	SubscribeAll(bufSize int) <-chan events.Event
	Unsubscribe(sub <-chan events.Event)
}

// Config holds HTTP server configuration.
type Config struct {
	Addr            string
	Heartbeat       time.Duration // SSE keep-alive interval
	ShutdownTimeout time.Duration

	// Defaults for refinement requests that omit them.
	MaxIterations int
	TargetScore   int
}

// ConfigFrom derives server settings from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Addr:            cfg.Server.Addr,
		Heartbeat:       cfg.Server.Heartbeat.Duration(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
		MaxIterations:   cfg.Refine.MaxIterations,
		TargetScore:     cfg.Refine.TargetScore,
	}
}

// Deps are the engine components the API exposes. Protocols and Events are
// required; a nil Pillars or Refiner disables its routes.
type Deps struct {
	Protocols *scheduler.ChainManager
	Pillars   Pillars
	Refiner   Refiner
	Events    Subscriber
	Gatherer  prometheus.Gatherer // nil uses the default registry
}

// Server provides HTTP endpoints for agentchain.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	config Config
	logger *zap.Logger

	// ctx bounds protocols submitted over HTTP; it outlives any request.
	ctx    context.Context
	cancel context.CancelFunc

	closing   chan struct{} // closed on Shutdown to end event streams
	closeOnce sync.Once
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if deps.Protocols == nil {
		return nil, errors.New("protocol manager cannot be nil")
	}
	if deps.Events == nil {
		return nil, errors.New("event subscriber cannot be nil")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:    e,
		deps:    deps,
		config:  cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		closing: make(chan struct{}),
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/events", s.handleEvents)

	v1.POST("/protocols", s.handleSubmitProtocol)
	v1.GET("/protocols", s.handleListProtocols)
	v1.GET("/protocols/:id", s.handleGetProtocol)
	v1.POST("/protocols/:id/pause", s.handlePause)
	v1.POST("/protocols/:id/resume", s.handleResume)
	v1.POST("/protocols/:id/interventions", s.handleIntervene)

	if s.deps.Pillars != nil {
		v1.POST("/pillars", s.handleRunPillar)
		v1.GET("/pillars/:slug", s.handleGetPillar)
	}
	if s.deps.Refiner != nil {
		v1.POST("/refine", s.handleRefine)
	}
}

// Echo exposes the underlying router for extra routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	err := s.echo.Start(s.config.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, waits for in-flight ones and then
// cancels protocols submitted over HTTP.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	s.closeOnce.Do(func() { close(s.closing) })
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	defer s.cancel()
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
