package cmds

import (
	"github.com/go-go-golems/wizard-chat/pkg/admin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			h, err := e.client.Health(cmd.Context())
			if err != nil {
				return err
			}
			if err := admin.RenderHealth(cmd.OutOrStdout(), e.format, h); err != nil {
				return err
			}
			if !h.OK() {
				return errors.Errorf("backend reports status %q", h.Status)
			}
			return nil
		},
	}
}
