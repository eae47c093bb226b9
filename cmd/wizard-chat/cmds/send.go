package cmds

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/go-go-golems/wizard-chat/pkg/conversation"
	"github.com/spf13/cobra"
)

// NewSendCommand sends a single message, creating a session when none is
// given, and prints the reply as it streams.
func NewSendCommand() *cobra.Command {
	var (
		sessionID string
		noStream  bool
	)
	cmd := &cobra.Command{
		Use:   "send MESSAGE...",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			message := strings.Join(args, " ")

			if sessionID == "" {
				s, err := e.client.CreateSession(ctx)
				if err != nil {
					return err
				}
				sessionID = s.ID
				fmt.Fprintf(errOut, "session %s\n", sessionID)
			}

			if noStream {
				reply, err := e.client.Send(ctx, sessionID, message)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply.Response)
				printProgress(cmd, reply.Completion)
				return nil
			}

			for ev := range e.client.StreamChat(ctx, sessionID, message) {
				switch ev := ev.(type) {
				case chat.ChunkEvent:
					fmt.Fprint(out, ev.Content)
				case chat.DoneEvent:
					fmt.Fprintln(out)
					printProgress(cmd, ev.Completion)
				case chat.ErrorEvent:
					fmt.Fprintln(out)
					return ev
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to send to (a new one is created when empty)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Use the non-streaming endpoint")
	return cmd
}

func printProgress(cmd *cobra.Command, c chat.Completion) {
	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "[progress %d/%d]\n", c.DataCollected.Count(), chat.DataFieldCount)
	if c.IsComplete {
		fmt.Fprintln(errOut, conversation.CompleteBanner)
	}
}
