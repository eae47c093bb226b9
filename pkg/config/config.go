package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/client"
	"github.com/go-go-golems/wizard-chat/pkg/logging"
	"github.com/go-go-golems/wizard-chat/pkg/signals"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "WIZARD"
	ConfigDir  = "$HOME/.wizard-chat"
	configName = "config"
)

// Settings is the merged configuration: flags override WIZARD_* environment
// variables, which override the config file, which overrides defaults.
type Settings struct {
	APIURL         string        `mapstructure:"api-url"`
	WSURL          string        `mapstructure:"ws-url"`
	StreamTimeout  time.Duration `mapstructure:"stream-timeout"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	Notifications  bool          `mapstructure:"notifications"`
	TranscriptDB   string        `mapstructure:"transcript-db"`
	RenderMarkdown bool          `mapstructure:"render-markdown"`
	Output         string        `mapstructure:"output"`

	Logging logging.Settings      `mapstructure:",squash"`
	Redis   signals.RedisSettings `mapstructure:",squash"`
}

// AddFlags registers the persistent flags every command shares.
func AddFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Config file (default "+ConfigDir+"/config.yaml)")
	f.String("api-url", client.DefaultBaseURL, "Backend base URL")
	f.String("ws-url", "", "Websocket base URL (derived from --api-url when empty)")
	f.Duration("stream-timeout", client.DefaultStreamTimeout, "Maximum silence between records of a streamed turn")
	f.Duration("request-timeout", client.DefaultRequestTimeout, "Timeout for non-streaming requests")
	f.Bool("notifications", true, "Listen for server notices on the session websocket")
	f.String("transcript-db", "", "SQLite file to record committed turns in (disabled when empty)")
	f.Bool("render-markdown", true, "Render assistant messages as markdown")
	f.StringP("output", "o", "text", "Output format for listings: text, json or yaml")

	def := logging.DefaultSettings()
	f.String("log-level", def.Level, "Log level (trace, debug, info, warn, error)")
	f.String("log-format", def.Format, "Log format (text or json)")
	f.String("log-file", "", "Write logs to this file")
	f.Bool("with-caller", false, "Include caller in log lines")

	r := signals.DefaultRedisSettings()
	f.Bool("redis-enabled", false, "Publish completion signals on a Redis stream")
	f.String("redis-addr", r.Addr, "Redis address host:port")
	f.String("redis-stream", r.Stream, "Redis stream for completion signals")
	f.String("redis-group", r.Group, "Redis consumer group")
	f.String("redis-consumer", r.Consumer, "Redis consumer name (default hostname-pid)")
}

// Load merges flags, environment and config file for cmd.
func Load(cmd *cobra.Command) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Settings{}, errors.Wrap(err, "bind flags")
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, errors.Wrapf(err, "read config %s", file)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, errors.Wrap(err, "read config")
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "decode config")
	}
	for _, p := range []*string{&s.TranscriptDB, &s.Logging.File} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return Settings{}, errors.Wrapf(err, "expand %s", *p)
		}
		*p = expanded
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	u, err := url.Parse(s.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("invalid api-url %q", s.APIURL)
	}
	if s.WSURL != "" {
		u, err := url.Parse(s.WSURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return errors.Errorf("invalid ws-url %q", s.WSURL)
		}
	}
	if s.StreamTimeout <= 0 {
		return errors.New("stream-timeout must be positive")
	}
	if s.RequestTimeout <= 0 {
		return errors.New("request-timeout must be positive")
	}
	switch s.Output {
	case "", "text", "json", "yaml":
	default:
		return errors.Errorf("invalid output format %q (expected text, json or yaml)", s.Output)
	}
	return s.Redis.Validate()
}

// ClientOptions translates the settings into client options.
func (s Settings) ClientOptions() []client.Option {
	return []client.Option{
		client.WithBaseURL(s.APIURL),
		client.WithWebsocketURL(s.WSURL),
		client.WithStreamTimeout(s.StreamTimeout),
		client.WithRequestTimeout(s.RequestTimeout),
	}
}
