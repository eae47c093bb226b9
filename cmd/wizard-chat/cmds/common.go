package cmds

import (
	"os"

	"github.com/go-go-golems/wizard-chat/pkg/admin"
	"github.com/go-go-golems/wizard-chat/pkg/client"
	"github.com/go-go-golems/wizard-chat/pkg/config"
	"github.com/go-go-golems/wizard-chat/pkg/logging"
	"github.com/go-go-golems/wizard-chat/pkg/transcript"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// interactive reports whether stdin and stdout are both terminals.
func interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

// InitLogging configures the global logger from the parsed flags. The chat
// command takes over the screen, so its logs are muted unless a file is set.
func InitLogging(cmd *cobra.Command) error {
	s, err := config.Load(cmd)
	if err != nil {
		return err
	}
	quiet := cmd.Name() == "chat" && interactive()
	return logging.Init(s.Logging, quiet)
}

type env struct {
	settings config.Settings
	client   *client.Client
	format   admin.Format
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	s, err := config.Load(cmd)
	if err != nil {
		return nil, err
	}
	c, err := client.New(s.ClientOptions()...)
	if err != nil {
		return nil, err
	}
	f, err := admin.ParseFormat(s.Output)
	if err != nil {
		return nil, err
	}
	return &env{settings: s, client: c, format: f}, nil
}

func (e *env) openStore() (*transcript.SQLiteStore, error) {
	if e.settings.TranscriptDB == "" {
		return nil, errors.New("no transcript database configured (set --transcript-db)")
	}
	dsn, err := transcript.DSNForFile(e.settings.TranscriptDB)
	if err != nil {
		return nil, err
	}
	return transcript.NewSQLiteStore(dsn)
}
