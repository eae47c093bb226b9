package turn

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	// ErrTurnInFlight rejects a submit while the previous turn streams.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")
	// ErrStaleSession is returned when the session was replaced before or
	// during the turn. Nothing is emitted for stale results.
	ErrStaleSession = errors.New("session is no longer current")
)

type Streamer interface {
	StreamChat(ctx context.Context, sessionID, message string) iter.Seq[chat.StreamEvent]
}

// Result describes a finished turn. Exactly one of Assistant and Failure is
// set unless the turn was dropped as stale.
type Result struct {
	User       chat.Message
	Assistant  *chat.Message
	Completion *chat.Completion
	Failure    *chat.ErrorEvent
}

// Reducer folds the event stream of one turn at a time into messages and
// completion signals for a single session.
type Reducer struct {
	sessionID string
	streamer  Streamer
	isCurrent func(string) bool
	ids       *chat.IDSource
	now       func() time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	phase   Phase
	partial strings.Builder
}

type Option func(*Reducer)

// WithCurrentCheck installs the predicate used to drop results of replaced
// sessions. Without it the session is always considered current.
func WithCurrentCheck(fn func(sessionID string) bool) Option {
	return func(r *Reducer) { r.isCurrent = fn }
}

func WithIDSource(ids *chat.IDSource) Option {
	return func(r *Reducer) { r.ids = ids }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reducer) { r.now = now }
}

func New(sessionID string, streamer Streamer, opts ...Option) *Reducer {
	r := &Reducer{
		sessionID: sessionID,
		streamer:  streamer,
		isCurrent: func(string) bool { return true },
		ids:       chat.NewIDSource(),
		now:       time.Now,
		logger:    log.Logger.With().Str("component", "turn_reducer").Str("session_id", sessionID).Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reducer) SessionID() string {
	return r.sessionID
}

func (r *Reducer) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Partial returns the text accumulated so far in the current turn.
func (r *Reducer) Partial() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial.String()
}

// Submit runs one turn to completion, emitting updates to sink as the stream
// progresses. The user message is emitted before any network activity. A turn
// that fails returns its chat.ErrorEvent as the error alongside the result.
func (r *Reducer) Submit(ctx context.Context, text string, sink func(Update)) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyMessage
	}
	if sink == nil {
		sink = func(Update) {}
	}

	r.mu.Lock()
	if r.phase.Busy() {
		r.mu.Unlock()
		return Result{}, ErrTurnInFlight
	}
	if !r.isCurrent(r.sessionID) {
		r.mu.Unlock()
		return Result{}, ErrStaleSession
	}
	r.phase = PhaseSending
	r.partial.Reset()
	r.mu.Unlock()

	stale := false
	emit := func(u Update) {
		if stale {
			return
		}
		if !r.isCurrent(r.sessionID) {
			stale = true
			r.logger.Debug().Msg("dropping results for replaced session")
			return
		}
		sink(u)
	}
	defer func() {
		r.setPhase(PhaseIdle)
		emit(PhaseChanged{SessionID: r.sessionID, Phase: PhaseIdle})
	}()

	res := Result{User: chat.Message{
		ID:        r.ids.Next(),
		Role:      chat.RoleUser,
		Content:   text,
		Timestamp: r.now(),
	}}
	emit(UserMessage{SessionID: r.sessionID, Message: res.User})
	emit(PhaseChanged{SessionID: r.sessionID, Phase: PhaseSending})

	terminal := false
	for ev := range r.streamer.StreamChat(ctx, r.sessionID, text) {
		if stale || !r.isCurrent(r.sessionID) {
			stale = true
			break
		}
		switch e := ev.(type) {
		case chat.ChunkEvent:
			r.mu.Lock()
			first := r.phase == PhaseSending
			r.phase = PhaseStreaming
			r.partial.WriteString(e.Content)
			acc := r.partial.String()
			r.mu.Unlock()
			if first {
				emit(PhaseChanged{SessionID: r.sessionID, Phase: PhaseStreaming})
			}
			emit(PartialText{SessionID: r.sessionID, Text: acc})

		case chat.DoneEvent:
			r.mu.Lock()
			content := r.partial.String()
			r.partial.Reset()
			r.phase = PhaseFinalized
			r.mu.Unlock()

			msg := chat.Message{
				ID:        r.ids.Next(),
				Role:      chat.RoleAssistant,
				Content:   content,
				Timestamp: r.now(),
			}
			completion := e.Completion
			res.Assistant = &msg
			res.Completion = &completion
			emit(AssistantMessage{SessionID: r.sessionID, Message: msg})
			emit(CompletionSignal{SessionID: r.sessionID, Completion: completion})
			emit(PhaseChanged{SessionID: r.sessionID, Phase: PhaseFinalized})
			terminal = true

		case chat.ErrorEvent:
			r.fail(&res, e, emit)
			terminal = true
		}
		if terminal {
			break
		}
	}

	if stale {
		r.mu.Lock()
		r.partial.Reset()
		r.mu.Unlock()
		return Result{}, ErrStaleSession
	}
	if !terminal {
		e := chat.ErrorEvent{Kind: chat.KindTruncated, Message: "response stream ended unexpectedly"}
		if ctx.Err() != nil {
			e = chat.ErrorEvent{Kind: chat.KindTransport, Message: ctx.Err().Error()}
		}
		r.fail(&res, e, emit)
	}
	if res.Failure != nil {
		return res, *res.Failure
	}
	return res, nil
}

func (r *Reducer) fail(res *Result, e chat.ErrorEvent, emit func(Update)) {
	r.mu.Lock()
	discarded := r.partial.Len()
	r.partial.Reset()
	r.phase = PhaseErrored
	r.mu.Unlock()

	r.logger.Warn().
		Str("kind", string(e.Kind)).
		Str("error", e.Message).
		Int("discarded_bytes", discarded).
		Msg("turn failed")
	res.Failure = &e
	emit(TurnFailed{SessionID: r.sessionID, Failure: e})
	emit(PhaseChanged{SessionID: r.sessionID, Phase: PhaseErrored})
}

func (r *Reducer) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}
