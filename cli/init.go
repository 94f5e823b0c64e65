package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/server/config"
	"github.com/gear6io/replicant/server/paths"
	"github.com/spf13/cobra"
)

// ErrAlreadyInitialised is returned when the target already has a config file
var ErrAlreadyInitialised = errors.MustNewCode("cli.already_initialised")

type initOptions struct {
	force bool
}

func newInitCommand() *cobra.Command {
	opts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a default replicant.yml",
		Long: `Write a replicant.yml holding the default configuration into the
directory (default: the current one), creating its data and logs
directories if needed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd, dir, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, dir string, opts *initOptions) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	layout := paths.NewManager(absPath)
	if err := layout.EnsureDirectoryStructure(); err != nil {
		return err
	}

	path := layout.GetConfigPath()
	if _, err := os.Stat(path); err == nil && !opts.force {
		return errors.New(ErrAlreadyInitialised, "config file already exists, use --force to overwrite", nil).
			AddContext("path", path)
	}

	cfg := config.LoadDefaultConfig()
	cfg.Store.Path = layout.GetStorePath()
	cfg.Log.FilePath = layout.GetLogFilePath()

	if err := config.SaveConfig(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
