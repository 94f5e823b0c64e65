package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/gear6io/replicant/server/store"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newBanCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ban",
		Short: "Manage the server ban list",
		Long: `Manage the hosts refused by the game server.

Bans live in the server's SQLite store and apply to new connections
immediately, including on a running server.`,
	}

	cmd.AddCommand(newBanAddCommand(root), newBanListCommand(root), newBanRemoveCommand(root))
	return cmd
}

type banAddOptions struct {
	reason   string
	duration time.Duration
}

func newBanAddCommand(root *rootOptions) *cobra.Command {
	opts := &banAddOptions{}

	cmd := &cobra.Command{
		Use:   "add <host>",
		Short: "Ban a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ban, err := st.AddBan(cmd.Context(), args[0], opts.reason, opts.duration)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if ban.ExpiresAt != nil {
				fmt.Fprintf(out, "Banned %s until %s\n", ban.Host, ban.ExpiresAt.Format(time.RFC3339))
			} else {
				fmt.Fprintf(out, "Banned %s\n", ban.Host)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.reason, "reason", "r", "", "reason shown to the banned player")
	cmd.Flags().DurationVarP(&opts.duration, "for", "d", 0, "ban duration, e.g. 24h (default forever)")
	return cmd
}

func newBanListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			bans, err := st.ListBans(cmd.Context())
			if err != nil {
				return err
			}
			return renderBans(cmd.OutOrStdout(), bans)
		},
	}
}

func newBanRemoveCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <host>",
		Aliases: []string{"rm"},
		Short:   "Lift a ban",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.RemoveBan(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unbanned %s\n", args[0])
			return nil
		},
	}
}

func renderBans(out io.Writer, bans []store.Ban) error {
	if len(bans) == 0 {
		fmt.Fprintln(out, "No active bans")
		return nil
	}

	data := pterm.TableData{{"HOST", "REASON", "SINCE", "EXPIRES"}}
	for _, ban := range bans {
		expires := "never"
		if ban.ExpiresAt != nil {
			expires = ban.ExpiresAt.Format(time.RFC3339)
		}
		data = append(data, []string{ban.Host, ban.Reason, ban.CreatedAt.Format(time.RFC3339), expires})
	}
	return renderTable(out, data)
}

func renderTable(out io.Writer, data pterm.TableData) error {
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, table)
	return nil
}

// openStore opens the store named by the loaded config
func (o *rootOptions) openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return store.Open(cmd.Context(), cfg.Store, o.quietLogger(cmd))
}
