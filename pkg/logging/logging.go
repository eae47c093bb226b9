package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Settings struct {
	Level      string `mapstructure:"log-level"`
	Format     string `mapstructure:"log-format"`
	File       string `mapstructure:"log-file"`
	WithCaller bool   `mapstructure:"with-caller"`
}

func DefaultSettings() Settings {
	return Settings{Level: "info", Format: "text"}
}

// Init configures the global zerolog logger. When quiet is set and no log
// file is given, logs are discarded so they do not draw over a full-screen UI.
func Init(s Settings, quiet bool) error {
	level := zerolog.InfoLevel
	if strings.TrimSpace(s.Level) != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s.Level))
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", s.Level)
		}
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	switch {
	case s.File != "":
		out = &lumberjack.Logger{
			Filename:   s.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
	case quiet:
		out = io.Discard
	}

	switch strings.ToLower(s.Format) {
	case "", "text":
		if s.File == "" {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		} else {
			out = zerolog.ConsoleWriter{Out: out, NoColor: true}
		}
	case "json":
	default:
		return errors.Errorf("invalid log format %q (expected text or json)", s.Format)
	}

	ctx := zerolog.New(out).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}
