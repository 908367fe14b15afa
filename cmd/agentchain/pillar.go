package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/agentchain/internal/pipeline"
)

func newPillarCmd(opts *rootOptions) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "pillar <topic>",
		Short: "Run the pillar pipeline for a topic",
		Long: `Run a topic through intake, research, synthesis, quality and publish,
printing the resulting pillar as JSON. A vetoed topic is still printed, with
its veto record, and queued for review.

Examples:
  agentchain pillar "AI in Retail"
  agentchain pillar --show ai-in-retail`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := opts.setup(ctx, defaultRegistry)
			if err != nil {
				return err
			}
			defer cleanup()

			topic := strings.Join(args, " ")
			if show {
				p, err := a.pipeline.Get(ctx, pipeline.Slug(topic))
				if err != nil {
					return fmt.Errorf("pillar %q: %w", topic, err)
				}
				return printJSON(cmd.OutOrStdout(), p)
			}

			p, err := a.pipeline.Run(ctx, topic)
			if err != nil {
				return err
			}
			if p.Vetoed() && p.Veto != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "vetoed in %s: %s\n", p.Veto.Phase, p.Veto.Reason)
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the stored pillar for a slug instead of running")
	return cmd
}
