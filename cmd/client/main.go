package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gear6io/replicant/client"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/server/config"
	"github.com/spf13/cobra"
)

func main() {
	var configPath, serverAddr, name string

	rootCmd := &cobra.Command{
		Use:   "replicant-client",
		Short: "Headless player that joins a game server",
		Long: `A headless player: joins the server, logs announcements and idles
until interrupted. Useful for load and soak testing.

Examples:
replicant-client --server 127.0.0.1:1200 --name bot-1`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loadErr := config.LoadConfig(configPath)
			if loadErr != nil {
				cfg = config.LoadDefaultConfig()
			}
			if serverAddr != "" {
				cfg.Client.Server = serverAddr
			}
			if name != "" {
				cfg.Client.Name = name
			}

			logger, err := config.SetupLogger(cfg, "client")
			if err != nil {
				return err
			}
			if loadErr != nil {
				logger.Info().Err(loadErr).Msg("Using default configuration")
			}

			c, err := client.New(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Connect(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := c.Run(ctx); err != nil {
				logger.Error().Str("code", errors.GetCode(err)).Err(err).Msg("Disconnected")
				return err
			}
			logger.Info().Msg("Left the game")
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "replicant.yml", "path to a YAML config file")
	rootCmd.Flags().StringVar(&serverAddr, "server", "", "server address, host:port (overrides config)")
	rootCmd.Flags().StringVarP(&name, "name", "n", "", "player name (overrides config)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
