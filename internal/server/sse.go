package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/aristath/agentchain/internal/events"
)

// handleEvents streams bus broadcasts via Server-Sent Events.
//
// Every event is written with its type as the SSE event name and its
// envelope as data. ?topic= narrows the stream to one topic. Subscribers only
// see broadcasts made after they connect.
//
// Example:
//
//	GET /api/v1/events?topic=phase
//
//	event: phase.entered
//	data: {"type":"phase.entered","topic":"phase","data":{"run_id":"run_1a2b3c4d",...}}
func (s *Server) handleEvents(c echo.Context) error {
	var sub <-chan events.Event
	if topic := c.QueryParam("topic"); topic != "" {
		sub = s.deps.Events.Subscribe(topic, 64)
	} else {
		sub = s.deps.Events.SubscribeAll(64)
	}
	defer s.deps.Events.Unsubscribe(sub)

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	// Heartbeat ticker to prevent proxy timeouts
	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return nil
			}
			data, err := events.Marshal(e)
			if err != nil {
				s.logger.Warn("failed to encode event", zap.String("type", e.EventType()), zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Response(), "event: %s\n", e.EventType())
			fmt.Fprintf(c.Response(), "data: %s\n\n", data)
			c.Response().Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-s.closing:
			return nil

		case <-c.Request().Context().Done():
			// Client disconnected
			return nil
		}
	}
}
