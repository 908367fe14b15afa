// Package agent defines the closed set of agents the engine can dispatch to
// and the registry that lazily builds them.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// ID identifies an agent. Only the constants below are valid.
type ID string

const (
	Strategist      ID = "sp-01"
	ContentDirector ID = "cc-06"
	DesignArchitect ID = "da-03"
	Auditor         ID = "ra-01"
	MissionManager  ID = "pm-07"
	MotionDirector  ID = "ve-01"
)

var (
	// ErrUnknownID is returned by ParseID for identifiers outside the closed set.
	ErrUnknownID = errors.New("unknown agent id")

	// ErrAgentNotFound is returned by the registry when no agent can be built
	// for a valid id (for example, it is not configured).
	ErrAgentNotFound = errors.New("agent not found")
)

var known = []ID{Strategist, ContentDirector, DesignArchitect, Auditor, MissionManager, MotionDirector}

// All returns every valid agent id in display order.
func All() []ID {
	out := make([]ID, len(known))
	copy(out, known)
	return out
}

// Valid reports whether id is in the closed set.
func (id ID) Valid() bool {
	for _, k := range known {
		if k == id {
			return true
		}
	}
	return false
}

func (id ID) String() string { return string(id) }

// ParseID validates s against the closed set.
func ParseID(s string) (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownID, s)
	}
	return id, nil
}

// Agent is the single capability every agent exposes to the engine.
type Agent interface {
	ID() ID
	Execute(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to the Agent interface.
type Func struct {
	AgentID ID
	Fn      func(ctx context.Context, prompt string) (string, error)
}

func (f Func) ID() ID { return f.AgentID }

func (f Func) Execute(ctx context.Context, prompt string) (string, error) {
	return f.Fn(ctx, prompt)
}
