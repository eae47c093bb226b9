package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func newCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	AddFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	s, err := Load(newCmd(t))
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", s.APIURL)
	require.Equal(t, 60*time.Second, s.StreamTimeout)
	require.True(t, s.Notifications)
	require.True(t, s.RenderMarkdown)
	require.Equal(t, "info", s.Logging.Level)
	require.False(t, s.Redis.Enabled)
	require.Equal(t, "localhost:6379", s.Redis.Addr)
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "wizard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"api-url: http://file.example:9000\nstream-timeout: 30s\nlog-level: debug\nredis-addr: redis:6379\n"), 0o600))

	t.Setenv("WIZARD_STREAM_TIMEOUT", "45s")

	s, err := Load(newCmd(t, "--config", path, "--log-level", "warn"))
	require.NoError(t, err)
	require.Equal(t, "http://file.example:9000", s.APIURL)
	require.Equal(t, 45*time.Second, s.StreamTimeout)
	require.Equal(t, "warn", s.Logging.Level)
	require.Equal(t, "redis:6379", s.Redis.Addr)
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	s, err := Load(newCmd(t, "--transcript-db", "~/wizard/transcript.db"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "wizard", "transcript.db"), s.TranscriptDB)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := Load(newCmd(t, "--api-url", "localhost:8000"))
	require.Error(t, err)

	_, err = Load(newCmd(t, "--stream-timeout", "0s"))
	require.Error(t, err)

	_, err = Load(newCmd(t, "--ws-url", "http://x"))
	require.Error(t, err)

	_, err = Load(newCmd(t, "--output", "xml"))
	require.Error(t, err)

	_, err = Load(newCmd(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}

func TestClientOptionsBuildClient(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	s, err := Load(newCmd(t, "--api-url", "https://wizard.example"))
	require.NoError(t, err)
	require.Len(t, s.ClientOptions(), 4)
}
