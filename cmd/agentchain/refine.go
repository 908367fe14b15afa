package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/agentchain/internal/agent"
)

type refineOptions struct {
	agent         string
	maxIterations int
	targetScore   int
}

func newRefineCmd(opts *rootOptions) *cobra.Command {
	ro := &refineOptions{}

	cmd := &cobra.Command{
		Use:   "refine [input]",
		Short: "Iteratively improve one agent's output",
		Long: `Run the refinement loop: the agent answers, the auditor grades, and the
critique is fed back until the target score is reached or iterations run out.
Input is read from the arguments, or from stdin when none are given.

Examples:
  agentchain refine --agent cc-06 "Write a launch announcement"
  echo "draft a tagline" | agentchain refine --agent cc-06 --target-score 90`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := agent.ParseID(ro.agent)
			if err != nil {
				return err
			}
			input, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, cleanup, err := opts.setup(ctx, defaultRegistry)
			if err != nil {
				return err
			}
			defer cleanup()

			maxIter, target := ro.maxIterations, ro.targetScore
			if maxIter <= 0 {
				maxIter = a.cfg.Refine.MaxIterations
			}
			if target <= 0 {
				target = a.cfg.Refine.TargetScore
			}

			res, err := a.refiner.Refine(ctx, id, input, maxIter, target)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&ro.agent, "agent", "", "agent id to refine (e.g. cc-06)")
	cmd.Flags().IntVar(&ro.maxIterations, "max-iterations", 0, "iteration cap (default refine.max_iterations)")
	cmd.Flags().IntVar(&ro.targetScore, "target-score", 0, "passing score (default refine.target_score)")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

// readInput joins args, falling back to r when there are none.
func readInput(r io.Reader, args []string) (string, error) {
	input := strings.Join(args, " ")
	if input == "" {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		input = string(data)
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("input is required")
	}
	return input, nil
}
