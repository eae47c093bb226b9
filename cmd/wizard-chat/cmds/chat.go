package cmds

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/wizard-chat/pkg/chatapp"
	"github.com/go-go-golems/wizard-chat/pkg/repl"
	"github.com/go-go-golems/wizard-chat/pkg/signals"
	"github.com/go-go-golems/wizard-chat/pkg/tokens"
	"github.com/go-go-golems/wizard-chat/pkg/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewChatCommand() *cobra.Command {
	var (
		resume   string
		lineMode bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the market wizard",
		Long: "Opens a full-screen chat when attached to a terminal, a line-based chat otherwise.\n" +
			"In line mode, /new starts a new session and /quit exits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			bus, err := signals.NewBus(ctx, e.settings.Redis)
			if err != nil {
				return err
			}
			opts := []chatapp.Option{chatapp.WithBus(bus)}
			if e.settings.TranscriptDB != "" {
				store, err := e.openStore()
				if err != nil {
					_ = bus.Close()
					return err
				}
				opts = append(opts, chatapp.WithStore(store))
			}
			app := chatapp.New(e.client, opts...)
			defer func() { _ = app.Close() }()

			g, gctx := errgroup.WithContext(ctx)
			runCtx, cancel := context.WithCancel(gctx)
			defer cancel()

			g.Go(func() error {
				return app.RecordCompletions(runCtx)
			})
			g.Go(func() error {
				defer cancel()
				if lineMode || !interactive() {
					var ropts []repl.Option
					if resume != "" {
						ropts = append(ropts, repl.WithResume(resume))
					}
					return repl.New(app, cmd.InOrStdin(), cmd.OutOrStdout(), ropts...).Run(runCtx)
				}
				return runTUI(runCtx, app, e, resume)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", "Continue an existing session instead of creating one")
	cmd.Flags().BoolVar(&lineMode, "line", false, "Use the line-based chat even on a terminal")
	return cmd
}

func runTUI(ctx context.Context, app *chatapp.App, e *env, resume string) error {
	opts := []ui.Option{
		ui.WithMarkdown(e.settings.RenderMarkdown),
		ui.WithTokenCounter(tokens.NewCounter()),
	}
	if e.settings.Notifications {
		opts = append(opts, ui.WithNotices(e.client))
	}
	if resume != "" {
		opts = append(opts, ui.WithResume(resume))
	}
	p := tea.NewProgram(
		ui.NewModel(ctx, app, opts...),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(os.Stdout),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "chat ui")
	}
	return nil
}
