package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aristath/agentchain/internal/config"
	"github.com/aristath/agentchain/internal/scheduler"
	"github.com/aristath/agentchain/internal/tui"
)

type runOptions struct {
	file     string
	workflow string
	goal     string
	watch    bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a protocol to completion",
		Long: `Run a protocol of agent tasks and print the final snapshot as JSON.

The protocol comes from a YAML file (-f) or from a configured workflow
template applied to a goal.

Examples:
  agentchain run -f launch.yaml
  agentchain run --workflow campaign --goal "Launch the spring collection"
  agentchain run --workflow campaign --goal "..." --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, cleanup, err := opts.setup(ctx, defaultRegistry)
			if err != nil {
				return err
			}
			defer cleanup()

			p, err := ro.protocol(a.cfg)
			if err != nil {
				return err
			}
			if ro.watch {
				return watch(ctx, a, p)
			}

			snap, err := a.chains.Run(ctx, p)
			if snap != nil {
				if perr := printJSON(cmd.OutOrStdout(), snap); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&ro.file, "file", "f", "", "protocol definition file (YAML)")
	cmd.Flags().StringVar(&ro.workflow, "workflow", "", "workflow template name")
	cmd.Flags().StringVar(&ro.goal, "goal", "", "protocol goal (with --workflow)")
	cmd.Flags().BoolVar(&ro.watch, "watch", false, "follow the run in the terminal UI")
	cmd.MarkFlagsMutuallyExclusive("file", "workflow")
	cmd.MarkFlagsOneRequired("file", "workflow")
	return cmd
}

// protocol builds the protocol to run from the flags.
func (o *runOptions) protocol(cfg *config.Config) (*scheduler.Protocol, error) {
	var (
		p   *scheduler.Protocol
		err error
	)
	if o.file != "" {
		p, err = scheduler.LoadProtocolFile(o.file)
	} else {
		wf, ok := cfg.Workflows[o.workflow]
		if !ok {
			return nil, fmt.Errorf("unknown workflow %q", o.workflow)
		}
		if o.goal == "" {
			return nil, errors.New("--goal is required with --workflow")
		}
		p, err = scheduler.FromWorkflow(o.workflow, wf, o.goal)
	}
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return p, nil
}

// watch runs p behind the terminal UI. Quitting the UI cancels the run.
func watch(ctx context.Context, a *app, p *scheduler.Protocol) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before submitting so no event is missed.
	model := tui.New(a.bus, p.ID, a.chains)
	h, err := a.chains.Submit(ctx, p)
	if err != nil {
		return err
	}

	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI: %w", err)
	}

	select {
	case <-h.Done():
		return h.Err()
	default:
		cancel()
		<-h.Done()
		return context.Canceled
	}
}
