package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/agentchain/internal/events"
)

// Handle controls and observes one submitted protocol.
type Handle struct {
	m         *ChainManager
	id        string
	goal      string
	createdAt time.Time
	dag       *DAG
	done      chan struct{}

	mu         sync.Mutex
	status     ProtocolStatus
	resumed    chan struct{} // non-nil while paused; closed on resume
	finishedAt *time.Time
	err        error
}

func (h *Handle) ID() string { return h.id }

// Done is closed when the protocol reaches a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Status returns the current protocol status.
func (h *Handle) Status() ProtocolStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Err returns the terminal error: nil while running or after a clean finish,
// a *DeadlockError on deadlock, or the cancellation cause.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the protocol finishes or ctx is done and returns the
// final snapshot.
func (h *Handle) Wait(ctx context.Context) (*Protocol, error) {
	select {
	case <-h.done:
		return h.Snapshot(), h.Err()
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// Pause stops new dispatch. Tasks already in flight run to completion.
// Reports whether the status changed.
func (h *Handle) Pause() bool {
	h.mu.Lock()
	if h.status != ProtocolActive {
		h.mu.Unlock()
		return false
	}
	h.status = ProtocolPaused
	h.resumed = make(chan struct{})
	h.mu.Unlock()

	h.m.logger.Info("protocol paused", zap.String("protocol_id", h.id))
	h.m.broadcastStatus(h, events.EventTypeProtocolPaused)
	return true
}

// Resume re-enables dispatch. Reports whether the status changed.
func (h *Handle) Resume() bool {
	h.mu.Lock()
	if h.status != ProtocolPaused {
		h.mu.Unlock()
		return false
	}
	h.status = ProtocolActive
	close(h.resumed)
	h.resumed = nil
	h.mu.Unlock()

	h.m.logger.Info("protocol resumed", zap.String("protocol_id", h.id))
	h.m.broadcastStatus(h, events.EventTypeProtocolResumed)
	return true
}

// Snapshot returns a deep copy of the protocol's current state.
func (h *Handle) Snapshot() *Protocol {
	h.mu.Lock()
	p := &Protocol{
		ID:        h.id,
		Goal:      h.goal,
		Status:    h.status,
		CreatedAt: h.createdAt,
	}
	if h.finishedAt != nil {
		t := *h.finishedAt
		p.FinishedAt = &t
	}
	if h.err != nil {
		p.Error = h.err.Error()
		var dl *DeadlockError
		if errors.As(h.err, &dl) {
			p.Stuck = append([]string(nil), dl.Stuck...)
		}
	}
	h.mu.Unlock()

	p.Tasks = h.dag.Tasks()
	return p
}

// Counts returns the current number of tasks in each state.
func (h *Handle) Counts() Counts { return h.dag.Counts() }

// pausedWait returns the resume channel while paused, nil otherwise.
func (h *Handle) pausedWait() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != ProtocolPaused {
		return nil
	}
	return h.resumed
}

func (h *Handle) complete(status ProtocolStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if h.resumed != nil {
		close(h.resumed)
		h.resumed = nil
	}
	h.status = status
	h.finishedAt = &now
	h.err = err
}

// endedAt returns when the protocol reached a terminal status.
func (h *Handle) endedAt() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finishedAt == nil {
		return time.Time{}, false
	}
	return *h.finishedAt, true
}

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
