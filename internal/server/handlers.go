package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/aristath/agentchain/internal/agent"
	"github.com/aristath/agentchain/internal/pipeline"
	"github.com/aristath/agentchain/internal/scheduler"
	"github.com/aristath/agentchain/internal/store"
)

// TaskRequest is one task of a submitted protocol.
type TaskRequest struct {
	ID          string   `json:"id"`
	Agent       string   `json:"agent"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
	TargetScore int      `json:"target_score"`
}

// ProtocolRequest is the request body for POST /api/v1/protocols.
type ProtocolRequest struct {
	ID    string        `json:"id"`
	Goal  string        `json:"goal"`
	Tasks []TaskRequest `json:"tasks"`
}

// SubmitResponse is returned when a protocol is accepted.
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// InterventionRequest is the request body for POST /api/v1/protocols/:id/interventions.
type InterventionRequest struct {
	TaskID    string `json:"task_id"`
	Directive string `json:"directive"`
}

// PillarRequest is the request body for POST /api/v1/pillars.
type PillarRequest struct {
	Topic string `json:"topic"`
}

// RefineRequest is the request body for POST /api/v1/refine. Zero limits use
// the configured defaults.
type RefineRequest struct {
	Agent         string `json:"agent"`
	Input         string `json:"input"`
	MaxIterations int    `json:"max_iterations"`
	TargetScore   int    `json:"target_score"`
}

// ControlResponse reports whether pause or resume changed the protocol.
type ControlResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (r ProtocolRequest) protocol() (*scheduler.Protocol, error) {
	p := scheduler.NewProtocol(r.Goal)
	if r.ID != "" {
		p.ID = r.ID
	}
	for _, t := range r.Tasks {
		id, err := agent.ParseID(t.Agent)
		if err != nil {
			return nil, err
		}
		p.Tasks = append(p.Tasks, &scheduler.Task{
			ID:           t.ID,
			AgentID:      id,
			Description:  t.Description,
			Dependencies: t.DependsOn,
			TargetScore:  t.TargetScore,
		})
	}
	return p, nil
}

func (s *Server) handleSubmitProtocol(c echo.Context) error {
	var req ProtocolRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid protocol request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	p, err := req.protocol()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h, err := s.deps.Protocols.Submit(s.ctx, p)
	switch {
	case errors.Is(err, scheduler.ErrDuplicateProtocol):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusAccepted, SubmitResponse{ID: h.ID(), Status: string(h.Status())})
}

func (s *Server) handleListProtocols(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Protocols.List())
}

func (s *Server) handleGetProtocol(c echo.Context) error {
	p, err := s.deps.Protocols.Lookup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return protocolError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handlePause(c echo.Context) error {
	return s.control(c, s.deps.Protocols.Pause)
}

func (s *Server) handleResume(c echo.Context) error {
	return s.control(c, s.deps.Protocols.Resume)
}

// control applies pause or resume; a protocol not in the required state
// yields 409.
func (s *Server) control(c echo.Context, fn func(id string) (bool, error)) error {
	id := c.Param("id")
	changed, err := fn(id)
	if err != nil {
		return protocolError(err)
	}
	h, err := s.deps.Protocols.Get(id)
	if err != nil {
		return protocolError(err)
	}
	status := string(h.Status())
	if !changed {
		return echo.NewHTTPError(http.StatusConflict, "protocol is "+status)
	}
	return c.JSON(http.StatusOK, ControlResponse{ID: id, Status: status})
}

func (s *Server) handleIntervene(c echo.Context) error {
	var req InterventionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TaskID == "" || req.Directive == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id and directive are required")
	}

	if err := s.deps.Protocols.Intervene(c.Param("id"), req.TaskID, req.Directive); err != nil {
		return protocolError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func protocolError(err error) error {
	switch {
	case errors.Is(err, scheduler.ErrProtocolNotFound), errors.Is(err, scheduler.ErrTaskNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrTaskNotPending), errors.Is(err, scheduler.ErrProtocolFinished):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// handleRunPillar runs a pillar synchronously. A veto is a normal 200
// outcome carrying the veto record.
func (s *Server) handleRunPillar(c echo.Context) error {
	var req PillarRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	pillar, err := s.deps.Pillars.Run(c.Request().Context(), req.Topic)
	switch {
	case errors.Is(err, pipeline.ErrEmptyTopic):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("pillar run failed", zap.String("topic", req.Topic), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, pillar)
}

func (s *Server) handleGetPillar(c echo.Context) error {
	pillar, err := s.deps.Pillars.Get(c.Request().Context(), c.Param("slug"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "pillar not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pillar)
}

func (s *Server) handleRefine(c echo.Context) error {
	var req RefineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := agent.ParseID(req.Agent)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Input == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "input is required")
	}
	if req.MaxIterations <= 0 {
		req.MaxIterations = s.config.MaxIterations
	}
	if req.TargetScore <= 0 {
		req.TargetScore = s.config.TargetScore
	}

	res, err := s.deps.Refiner.Refine(c.Request().Context(), id, req.Input, req.MaxIterations, req.TargetScore)
	switch {
	case errors.Is(err, agent.ErrAgentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("refinement failed", zap.String("agent_id", string(id)), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
