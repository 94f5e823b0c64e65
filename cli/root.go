package cli

import (
	"context"
	"os"

	"github.com/gear6io/replicant/server/config"
	"github.com/gear6io/replicant/server/paths"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// DefaultConfigFile is read from the working directory when --config is not given
const DefaultConfigFile = paths.ConfigFileName

type contextKey string

const loggerKey contextKey = "logger"

// WithLogger stores logger in ctx for the commands to use
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// getLoggerFromContext retrieves the logger from context
func getLoggerFromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return nil
	}
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return &logger
	}
	return nil
}

type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCommand builds the replicant command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "replicant",
		Short: "Object replication for real-time multiplayer games",
		Long: `Replicant keeps a server's game world in sync with its clients over UDP.

It runs the authoritative server, connects test clients, and manages the
ban list and session history kept in the server's SQLite store.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (default ./"+DefaultConfigFile+")")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		newServeCommand(opts),
		newConnectCommand(opts),
		newBanCommand(opts),
		newSessionsCommand(opts),
		newInitCommand(),
	)
	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// ExecuteWithContext runs the root command with a context carrying the logger
func ExecuteWithContext(ctx context.Context) error {
	if logger := getLoggerFromContext(ctx); logger != nil {
		logger.Debug().Str("cmd", "root").Msg("Executing root command")
	}
	return NewRootCommand().ExecuteContext(ctx)
}

// load reads the config named by --config, then ./replicant.yml, then the defaults
func (o *rootOptions) load() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadConfig(o.configPath)
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return config.LoadConfig(DefaultConfigFile)
	}
	return config.LoadDefaultConfig(), nil
}

// logger prefers the logger handed in through the context and otherwise
// builds one from cfg
func (o *rootOptions) logger(cmd *cobra.Command, cfg *config.Config, component string) (zerolog.Logger, error) {
	if logger := getLoggerFromContext(cmd.Context()); logger != nil {
		return logger.With().Str("component", component).Logger(), nil
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	return config.SetupLogger(cfg, component)
}

// quietLogger is for one-shot admin commands: silent unless verbose
func (o *rootOptions) quietLogger(cmd *cobra.Command) zerolog.Logger {
	if logger := getLoggerFromContext(cmd.Context()); logger != nil {
		return *logger
	}
	if o.verbose {
		return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
	}
	return zerolog.Nop()
}
