package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/wizard-chat/cmd/wizard-chat/cmds"
	"github.com/go-go-golems/wizard-chat/pkg/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wizard-chat",
	Short: "wizard-chat talks to the market wizard backend",
	Long: "wizard-chat is a terminal client for the market wizard: a streaming chat that\n" +
		"collects a name, an email and an income, plus admin and session tooling.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger now that --log-level and co are parsed
		return cmds.InitLogging(cmd)
	},
}

func main() {
	config.AddFlags(rootCmd)

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewSendCommand(),
		cmds.NewSessionsCommand(),
		cmds.NewAdminCommand(),
		cmds.NewHealthCommand(),
		cmds.NewCompletionsCommand(),
		cmds.NewHistoryCommand(),
		cmds.NewTokensCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		// a second interrupt terminates immediately
		<-ctx.Done()
		stop()
	}()

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
