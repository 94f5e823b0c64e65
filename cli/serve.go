package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gear6io/replicant/server"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	port    int
	netmode string
	metrics bool
	store   string
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		Long: `Run the authoritative game server.

The server admits clients over UDP, spawns a controller and pawn for each
and replicates the world at the configured network rate. Prometheus metrics
and a JSON status page are served over HTTP when metrics are enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "UDP port to listen on (overrides config)")
	cmd.Flags().StringVar(&opts.netmode, "netmode", "", "server netmode: server or listen (overrides config)")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", true, "serve /metrics and /status")
	cmd.Flags().StringVar(&opts.store, "store", "", "SQLite store path (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if opts.port != 0 {
		cfg.Network.Port = opts.port
	}
	if opts.netmode != "" {
		cfg.Network.Netmode = opts.netmode
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Enabled = opts.metrics
	}
	if opts.store != "" {
		cfg.Store.Path = opts.store
	}

	logger, err := root.logger(cmd, cfg, "serve")
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create server")
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Server failed")
		srv.Shutdown()
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down game server...")

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	logger.Info().Msg("Server stopped gracefully")
	return nil
}
