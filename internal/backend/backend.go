package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrBlocked is returned when the provider refuses a prompt on safety-policy
// grounds. It is never retried.
var ErrBlocked = errors.New("prompt blocked by provider safety policy")

// Generator turns a prompt into generated text.
type Generator interface {
	// Generate produces content from the prompt alone.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateGrounded performs live retrieval before generating.
	GenerateGrounded(ctx context.Context, prompt string) (string, error)
}

// Config defines the configuration for a generator.
type Config struct {
	Name       string   // provider key, also the circuit breaker name
	Type       string   // "cli" or "echo"
	Command    string   // CLI binary for Type "cli"
	Args       []string // args placed before the prompt
	GroundArgs []string // extra args for grounded calls
	Model      string
}

// New creates a new generator based on the provided configuration.
// This factory function switches on cfg.Type and returns the appropriate adapter.
func New(cfg Config, pm *ProcessManager) (Generator, error) {
	switch cfg.Type {
	case "cli", "":
		return NewCLIGenerator(cfg, pm)
	case "echo":
		return EchoGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
