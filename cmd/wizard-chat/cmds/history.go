package cmds

import (
	"fmt"

	"github.com/go-go-golems/wizard-chat/pkg/admin"
	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/spf13/cobra"
)

// NewHistoryCommand reads the local transcript database written by chat
// --transcript-db.
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse locally recorded conversations",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			sessions, err := store.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if done, err := admin.Encode(out, e.format, sessions); done {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "no recorded sessions")
				return nil
			}
			fmt.Fprintf(out, "%-10s %-9s %-20s %-8s %s\n", "SESSION", "STATUS", "LAST ACTIVITY", "DATA", "MSGS")
			for _, s := range sessions {
				fmt.Fprintf(out, "%-10s %-9s %-20s %-8s %d\n",
					s.Session.ShortID(), s.Session.Status,
					s.LastActivity.Local().Format("2006-01-02 15:04:05"),
					fmt.Sprintf("%d/%d", s.DataCollected.Count(), chat.DataFieldCount),
					s.MessageCount)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions")

	show := &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Print a recorded conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			msgs, err := store.Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if done, err := admin.Encode(out, e.format, msgs); done {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.Role, m.Content)
			}
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}
