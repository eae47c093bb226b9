package cmds

import (
	"fmt"

	"github.com/go-go-golems/wizard-chat/pkg/admin"
	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/go-go-golems/wizard-chat/pkg/config"
	"github.com/go-go-golems/wizard-chat/pkg/signals"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewCompletionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completions",
		Short: "Completion signals published by chat sessions",
	}

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Follow completion signals on the Redis stream",
		Long: "Reads the completion signals that chat sessions publish when --redis-enabled\n" +
			"is set. Runs until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(cmd)
			if err != nil {
				return err
			}
			if !s.Redis.Enabled {
				return errors.New("completions tail needs --redis-enabled")
			}
			f, err := admin.ParseFormat(s.Output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			bus, err := signals.NewBus(ctx, s.Redis.ForObserver())
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			ch, err := bus.Subscribe(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for sig := range ch {
				if done, err := admin.Encode(out, f, sig); done {
					if err != nil {
						return err
					}
					continue
				}
				state := "in progress"
				if sig.IsComplete {
					state = "complete"
				}
				fmt.Fprintf(out, "%s  %s  %d/%d  %s\n",
					sig.At.Local().Format("15:04:05"),
					chat.Session{ID: sig.SessionID}.ShortID(),
					sig.Collected, chat.DataFieldCount, state)
			}
			return nil
		},
	}

	cmd.AddCommand(tail)
	return cmd
}
