package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gear6io/replicant/client"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/server/game"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// ErrInvalidCommand is returned for unparseable interactive input
var ErrInvalidCommand = errors.MustNewCode("cli.invalid_command")

type connectOptions struct {
	name string
}

func newConnectCommand(root *rootOptions) *cobra.Command {
	opts := &connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect [server]",
		Short: "Join a game server as a player",
		Long: `Join a game server and control a pawn from the terminal.

Commands read from standard input:
  move <x> <y>   walk the pawn by (x, y)
  name <name>    change the player name
  where          print the pawn's position and health
  quit           leave the game`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, root, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "player name (overrides config)")
	return cmd
}

func runConnect(cmd *cobra.Command, root *rootOptions, opts *connectOptions, args []string) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Client.Server = args[0]
	}
	if opts.name != "" {
		cfg.Client.Name = opts.name
	}
	// The terminal belongs to the player
	cfg.Log.Console = false

	logger, err := root.logger(cmd, cfg, "connect")
	if err != nil {
		return err
	}

	c, err := client.New(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Connect(); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connecting to %s as %s\n", cfg.Client.Server, cfg.Client.Name)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.Announcements():
				fmt.Fprintf(out, "* %s\n", msg)
			}
		}
	}()

	go readCommands(cmd.InOrStdin(), out, c, cancel)

	return c.Run(ctx)
}

// readCommands feeds interactive input to the client until EOF or quit
func readCommands(in io.Reader, out io.Writer, c *client.Client, quit context.CancelFunc) {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return
		}

		cmd, done, err := parseCommand(scanner.Text(), out)
		switch {
		case err != nil:
			fmt.Fprintln(out, errors.FormatError(err))
		case done:
			quit()
			return
		case cmd != nil:
			c.Do(cmd)
		}
	}
}

// parseCommand turns one input line into a client command. done is set for
// quit; blank lines give neither.
func parseCommand(line string, out io.Writer) (cmd client.Command, done bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false, nil
	}

	switch fields[0] {
	case "quit", "exit":
		return nil, true, nil

	case "move":
		if len(fields) != 3 {
			return nil, false, errors.New(ErrInvalidCommand, "usage: move <x> <y>", nil)
		}
		x, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			return nil, false, errors.New(ErrInvalidCommand, "x is not a number", err)
		}
		y, err := strconv.ParseFloat(fields[2], 32)
		if err != nil {
			return nil, false, errors.New(ErrInvalidCommand, "y is not a number", err)
		}
		return func(pc *game.PlayerController) error {
			return pc.Move.Call(game.MoveArgs{X: float32(x), Y: float32(y)})
		}, false, nil

	case "name":
		name, err := game.CleanName(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "name")))
		if err != nil {
			return nil, false, err
		}
		return func(pc *game.PlayerController) error {
			return pc.Rename.Call(game.RenameArgs{Name: name})
		}, false, nil

	case "where":
		return func(pc *game.PlayerController) error {
			pawn, ok := pc.Controlled()
			if !ok {
				fmt.Fprintln(out, "no pawn yet")
				return nil
			}
			pos := pawn.Position.Get()
			fmt.Fprintf(out, "%s at (%.1f, %.1f) health %d\n", pawn.Name.Get(), pos.X, pos.Y, pawn.Health.Get())
			return nil
		}, false, nil
	}

	return nil, false, errors.Newf(ErrInvalidCommand, "unknown command %q", fields[0])
}
