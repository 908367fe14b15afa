package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/agentchain/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Start the HTTP API: protocol submission and control, pillar runs,
refinement, Prometheus metrics and the SSE event stream.

Examples:
  agentchain serve
  agentchain serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, cleanup, err := opts.setup(ctx, defaultRegistry)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg := server.ConfigFrom(a.cfg)
			if addr != "" {
				cfg.Addr = addr
			}
			srv, err := server.NewServer(cfg, server.Deps{
				Protocols: a.chains,
				Pillars:   a.pipeline,
				Refiner:   a.refiner,
				Events:    a.bus,
				Gatherer:  prometheus.DefaultGatherer,
			}, a.logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			return serve(ctx, srv, a.logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// serve runs srv until it fails or ctx is cancelled, then shuts it down.
func serve(ctx context.Context, srv *server.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errCh
}
