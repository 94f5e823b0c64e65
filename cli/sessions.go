package cli

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newSessionsCommand(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show recent player sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.RecentSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded")
				return nil
			}

			data := pterm.TableData{{"SESSION", "ADDRESS", "PLAYER", "STATUS", "CONNECTED", "DURATION", "REASON"}}
			for _, s := range sessions {
				duration := "-"
				if s.DisconnectedAt != nil {
					duration = s.DisconnectedAt.Sub(s.ConnectedAt).Round(time.Second).String()
				}
				data = append(data, []string{
					s.ID, s.Address, s.PlayerName, s.Status,
					s.ConnectedAt.Format(time.RFC3339), duration, s.Reason,
				})
			}
			return renderTable(out, data)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of sessions to show")
	return cmd
}
