package cmds

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-go-golems/wizard-chat/pkg/admin"
	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/go-go-golems/wizard-chat/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Token statistics",
	}

	var sessionID string
	count := &cobra.Command{
		Use:   "count [TEXT...]",
		Short: "Count tokens of text, stdin, or a backend session",
		RunE: func(cmd *cobra.Command, args []string) error {
			counter := tokens.NewCounter()
			out := cmd.OutOrStdout()

			if sessionID != "" {
				e, err := loadEnv(cmd)
				if err != nil {
					return err
				}
				rec, err := e.client.GetSession(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				st, err := counter.Conversation(rec.Messages(chat.NewIDSource()))
				if err != nil {
					return err
				}
				if done, err := admin.Encode(out, e.format, st); done {
					return err
				}
				fmt.Fprintf(out, "Messages: %d\nUser tokens: %d\nAssistant tokens: %d\nTotal: %d\n",
					st.Messages, st.UserTokens, st.AssistantTokens, st.Total())
				return nil
			}

			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "error reading from stdin")
				}
				text = string(b)
			}
			n, err := counter.Count(text)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Total tokens: %d\n", n)
			return nil
		},
	}
	count.Flags().StringVar(&sessionID, "session", "", "Count the conversation of a backend session")

	cmd.AddCommand(count)
	return cmd
}
