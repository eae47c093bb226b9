// Package repl is the line-oriented chat used when stdin is not a terminal.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/go-go-golems/wizard-chat/pkg/chatapp"
	"github.com/go-go-golems/wizard-chat/pkg/conversation"
	"github.com/go-go-golems/wizard-chat/pkg/turn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	input "github.com/tcnksm/go-input"
)

const (
	cmdQuit = "/quit"
	cmdNew  = "/new"
)

type REPL struct {
	app    *chatapp.App
	lines  *bufio.Reader
	out    io.Writer
	ui     *input.UI
	resume string
	logger zerolog.Logger
}

type Option func(*REPL)

// WithResume continues an existing backend session instead of creating one.
func WithResume(sessionID string) Option {
	return func(r *REPL) { r.resume = sessionID }
}

func New(app *chatapp.App, in io.Reader, out io.Writer, opts ...Option) *REPL {
	lines := bufio.NewReader(in)
	r := &REPL{
		app:   app,
		lines: lines,
		out:   out,
		// go-input wraps its reader in its own buffer; feeding it one line per
		// Read keeps the shared reader positioned at the next line.
		ui:     &input.UI{Writer: out, Reader: &lineReader{r: lines}},
		logger: log.Logger.With().Str("component", "repl").Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run starts a session and reads one message per line until EOF, /quit or
// ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	if err := r.start(ctx, false); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, "> ")
		line, err := r.lines.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return errors.Wrap(err, "read input")
		}
		text := strings.TrimSpace(line)
		switch {
		case text == cmdQuit:
			return nil
		case text == cmdNew:
			if err := r.start(ctx, true); err != nil {
				return err
			}
		case text != "":
			r.turn(ctx, text)
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			return nil
		}
	}
}

// start creates a session, asking whether to retry after each failure.
func (r *REPL) start(ctx context.Context, replace bool) error {
	for {
		var (
			s   chat.Session
			err error
		)
		switch {
		case replace:
			s, err = r.app.NewSession(ctx)
		case r.resume != "":
			s, err = r.app.Resume(ctx, r.resume)
		default:
			s, err = r.app.Start(ctx)
		}
		if err == nil {
			fmt.Fprintf(r.out, "session %s\n", s.ShortID())
			if v := r.app.View(); v != nil {
				r.printSnapshot(v.Snapshot(), replace)
			}
			return nil
		}
		fmt.Fprintf(r.out, "Error: %s\n", err)
		if replace && r.app.View() != nil {
			// the previous session stays usable
			return nil
		}
		retry, askErr := r.askRetry()
		if askErr != nil || !retry {
			return errors.Wrap(err, "could not start a session")
		}
	}
}

func (r *REPL) printSnapshot(snap conversation.Snapshot, replace bool) {
	if len(snap.Messages) == 0 || replace {
		fmt.Fprintln(r.out, snap.Greeting)
		return
	}
	for _, m := range snap.Messages {
		fmt.Fprintf(r.out, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(r.out, "[progress %d/%d]\n", snap.DataCollected.Count(), chat.DataFieldCount)
}

func (r *REPL) askRetry() (bool, error) {
	answer, err := r.ui.Ask("Retry? [Y/n]", &input.Options{
		Default:     "y",
		Loop:        true,
		HideOrder:   true,
		HideDefault: true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "n", "yes", "no", "":
				return nil
			}
			return errors.Errorf("please enter 'y' or 'n'")
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to get user input")
	}
	a := strings.ToLower(answer)
	return a == "y" || a == "yes" || a == "", nil
}

// turn prints partial text as it arrives, then the outcome.
func (r *REPL) turn(ctx context.Context, text string) {
	printed := 0
	_, err := r.app.Submit(ctx, text, func(u turn.Update) {
		switch e := u.(type) {
		case turn.PartialText:
			if len(e.Text) > printed {
				fmt.Fprint(r.out, e.Text[printed:])
				printed = len(e.Text)
			}
		case turn.AssistantMessage:
			if printed < len(e.Message.Content) {
				fmt.Fprint(r.out, e.Message.Content[printed:])
			}
			fmt.Fprintln(r.out)
		case turn.CompletionSignal:
			fmt.Fprintf(r.out, "[progress %d/%d]\n", e.DataCollected.Count(), chat.DataFieldCount)
			if e.IsComplete {
				fmt.Fprintln(r.out, conversation.CompleteBanner)
			}
		case turn.TurnFailed:
			if printed > 0 {
				fmt.Fprintln(r.out)
			}
			fmt.Fprintf(r.out, "Error: %s\n", e.Failure.Message)
		}
	})
	switch {
	case err == nil:
	case errors.Is(err, turn.ErrStaleSession), errors.Is(err, turn.ErrEmptyMessage):
	case errors.Is(err, chatapp.ErrNoSession), errors.Is(err, turn.ErrTurnInFlight):
		fmt.Fprintf(r.out, "Error: %s\n", err)
	default:
		r.logger.Debug().Err(err).Msg("turn failed")
	}
}

// lineReader hands out at most one line per Read.
type lineReader struct {
	r    *bufio.Reader
	rest []byte
}

func (l *lineReader) Read(p []byte) (int, error) {
	if len(l.rest) == 0 {
		line, err := l.r.ReadBytes('\n')
		if len(line) == 0 {
			return 0, err
		}
		l.rest = line
	}
	n := copy(p, l.rest)
	l.rest = l.rest[n:]
	return n, nil
}
