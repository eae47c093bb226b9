package cmds

import (
	"github.com/go-go-golems/wizard-chat/pkg/admin"
	"github.com/spf13/cobra"
)

func NewSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions stored by the backend",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			sessions, err := e.client.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			return admin.RenderSessions(cmd.OutOrStdout(), e.format, sessions)
		},
	}

	show := &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Show one session with its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			rec, err := e.client.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return admin.RenderSession(cmd.OutOrStdout(), e.format, rec)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}
