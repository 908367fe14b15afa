package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aristath/agentchain/internal/config"
	"github.com/aristath/agentchain/internal/logging"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	globalPath  string
	projectPath string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "agentchain",
		Short: "Multi-agent orchestration engine",
		Long: `agentchain coordinates a fixed roster of AI agents.

It runs dependency-ordered protocols of agent tasks, pillar pipelines with
ethics and quality gates, and critique-driven refinement loops. Progress is
published on an event bus that the HTTP API streams as Server-Sent Events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	globalPath, err := config.GlobalPath()
	if err != nil {
		globalPath = ""
	}
	cmd.PersistentFlags().StringVar(&opts.globalPath, "global-config", globalPath, "global config file")
	cmd.PersistentFlags().StringVar(&opts.projectPath, "config", config.ProjectPath(), "project config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newPillarCmd(opts),
		newRefineCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// loadConfig reads the layered configuration and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.globalPath, o.projectPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// setup loads configuration, builds the logger and wires the engine. The
// returned cleanup closes the engine and flushes the logger.
func (o *rootOptions) setup(ctx context.Context, reg prometheus.Registerer) (*app, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}

	a, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		_ = logging.Sync(logger)
		return nil, nil, err
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.close(closeCtx)
		if err := logging.Sync(logger); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}
	return a, cleanup, nil
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// defaultRegistry is where command runs register engine metrics.
var defaultRegistry prometheus.Registerer = prometheus.DefaultRegisterer
