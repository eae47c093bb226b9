package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/admin"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultWatchInterval = 30 * time.Second

func NewAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin dashboard and email settings",
	}
	cmd.AddCommand(newDashboardCommand(), newSettingsCommand())
	return cmd
}

func newDashboardCommand() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show statistics, system health and recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !watch {
				d, err := e.client.Dashboard(cmd.Context())
				if err != nil {
					return err
				}
				return admin.RenderDashboard(out, e.format, d)
			}
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			return watchDashboard(cmd.Context(), e, out, interval)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Refresh the dashboard periodically")
	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "Refresh interval with --watch")
	return cmd
}

// watchDashboard redraws until ctx is done. Fetch failures are shown and
// retried on the next tick.
func watchDashboard(ctx context.Context, e *env, out io.Writer, interval time.Duration) error {
	redraw := e.format == admin.FormatText && isatty.IsTerminal(os.Stdout.Fd())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d, err := e.client.Dashboard(ctx)
		if redraw {
			fmt.Fprint(out, "\033[H\033[2J")
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("dashboard refresh failed")
			fmt.Fprintf(out, "Error: %s\n", err)
		} else if err := admin.RenderDashboard(out, e.format, d); err != nil {
			return err
		}
		if redraw {
			fmt.Fprintf(out, "\nupdated %s, every %s\n", time.Now().Format("15:04:05"), interval)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change the email settings",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the email settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			s, err := e.client.Settings(cmd.Context())
			if err != nil {
				return err
			}
			return admin.RenderSettings(cmd.OutOrStdout(), e.format, s)
		},
	}

	var email string
	set := &cobra.Command{
		Use:   "set",
		Short: "Update the recipient email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u := admin.SettingsUpdate{RecipientEmail: email}
			if err := u.Validate(); err != nil {
				return err
			}
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			s, err := e.client.UpdateSettings(cmd.Context(), u)
			if err != nil {
				return err
			}
			return admin.RenderSettings(cmd.OutOrStdout(), e.format, s)
		},
	}
	set.Flags().StringVar(&email, "recipient-email", "", "Address that receives collected data")
	_ = set.MarkFlagRequired("recipient-email")

	cmd.AddCommand(get, set)
	return cmd
}
