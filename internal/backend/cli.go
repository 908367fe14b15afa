package backend

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// BlockedExitCode is the exit status a provider CLI uses to report a
// safety-policy refusal.
const BlockedExitCode = 3

// CLIGenerator invokes a provider CLI once per prompt and returns its stdout.
type CLIGenerator struct {
	command    string
	args       []string
	groundArgs []string
	model      string
	procMgr    *ProcessManager
}

// NewCLIGenerator creates a CLI-backed generator.
// The ProcessManager is optional - if nil, subprocesses won't be tracked.
func NewCLIGenerator(cfg Config, procMgr *ProcessManager) (*CLIGenerator, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("provider %q: command is required", cfg.Name)
	}
	return &CLIGenerator{
		command:    cfg.Command,
		args:       cfg.Args,
		groundArgs: cfg.GroundArgs,
		model:      cfg.Model,
		procMgr:    procMgr,
	}, nil
}

// Generate runs the CLI with the prompt as its final argument.
func (g *CLIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.run(ctx, g.buildArgs(prompt, false))
}

// GenerateGrounded runs the CLI with the grounding args added.
func (g *CLIGenerator) GenerateGrounded(ctx context.Context, prompt string) (string, error) {
	return g.run(ctx, g.buildArgs(prompt, true))
}

func (g *CLIGenerator) run(ctx context.Context, args []string) (string, error) {
	cmd := newCommand(ctx, g.command, args...)

	stdout, _, err := executeCommand(ctx, cmd, g.procMgr)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == BlockedExitCode {
			return "", fmt.Errorf("%s: %w", g.command, ErrBlocked)
		}
		return "", fmt.Errorf("%s: %w", g.command, err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

// buildArgs constructs the command-line arguments: configured args, grounding
// args, optional model override, then the prompt.
func (g *CLIGenerator) buildArgs(prompt string, grounded bool) []string {
	args := make([]string, 0, len(g.args)+len(g.groundArgs)+3)
	args = append(args, g.args...)
	if grounded {
		args = append(args, g.groundArgs...)
	}
	if g.model != "" {
		args = append(args, "--model", g.model)
	}
	return append(args, prompt)
}

// EchoGenerator returns the prompt unchanged. Useful for dry runs and local
// development without a provider CLI.
type EchoGenerator struct{}

func (EchoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	return prompt, nil
}

func (EchoGenerator) GenerateGrounded(_ context.Context, prompt string) (string, error) {
	return "PROCEED\n" + prompt, nil
}
