package chatapp

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/go-go-golems/wizard-chat/pkg/conversation"
	"github.com/go-go-golems/wizard-chat/pkg/session"
	"github.com/go-go-golems/wizard-chat/pkg/signals"
	"github.com/go-go-golems/wizard-chat/pkg/transcript"
	"github.com/go-go-golems/wizard-chat/pkg/turn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend is the subset of the HTTP client the app drives.
type Backend interface {
	session.Creator
	turn.Streamer
	Greeting(ctx context.Context) (string, error)
	GetSession(ctx context.Context, sessionID string) (chat.SessionRecord, error)
}

var ErrNoSession = errors.New("no active session")

// active bundles the per-session state rebuilt on every identity change.
type active struct {
	identity session.Identity
	view     *conversation.View
	reducer  *turn.Reducer
}

// App wires the session guard, the per-session reducer and view, the
// completion bus and the optional transcript store.
type App struct {
	backend Backend
	guard   *session.Guard
	bus     *signals.Bus
	store   transcript.Store
	extra   []conversation.CompletionObserver
	ids     *chat.IDSource
	logger  zerolog.Logger

	mu         sync.Mutex
	current    *active
	seeds      map[string][]conversation.Option
	onIdentity []func(session.Identity)
}

type Option func(*App)

func WithBus(b *signals.Bus) Option {
	return func(a *App) { a.bus = b }
}

func WithStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithObserver adds a progress observer called after the bus for every
// completion signal of every session.
func WithObserver(o conversation.CompletionObserver) Option {
	return func(a *App) {
		if o != nil {
			a.extra = append(a.extra, o)
		}
	}
}

func New(backend Backend, opts ...Option) *App {
	a := &App{
		backend: backend,
		ids:     chat.NewIDSource(),
		seeds:   map[string][]conversation.Option{},
		logger:  log.Logger.With().Str("component", "chatapp").Logger(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.bus == nil {
		a.bus = signals.NewInMemoryBus()
	}
	a.guard = session.NewGuard(backend)
	a.guard.Subscribe(a.rebuild)
	return a
}

func (a *App) Guard() *session.Guard {
	return a.guard
}

func (a *App) Bus() *signals.Bus {
	return a.bus
}

// OnIdentity registers fn to run after the view has been rebuilt for a new
// session.
func (a *App) OnIdentity(fn func(session.Identity)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onIdentity = append(a.onIdentity, fn)
}

// Start creates the first session and loads the greeting.
func (a *App) Start(ctx context.Context) (chat.Session, error) {
	s, err := a.guard.Initialize(ctx)
	if err != nil {
		return chat.Session{}, err
	}
	a.loadGreeting(ctx)
	return s, nil
}

// NewSession replaces the current session. The previous view is discarded
// only when the replacement succeeds.
func (a *App) NewSession(ctx context.Context) (chat.Session, error) {
	s, err := a.guard.Replace(ctx)
	if err != nil {
		return chat.Session{}, err
	}
	a.loadGreeting(ctx)
	return s, nil
}

// Resume adopts an existing backend session and seeds the view with its
// history.
func (a *App) Resume(ctx context.Context, sessionID string) (chat.Session, error) {
	rec, err := a.backend.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	s := chat.Session{ID: rec.SessionID, CreatedAt: rec.Timestamp, Status: rec.Status}
	if s.ID == "" {
		s.ID = sessionID
	}
	if s.Status == "" {
		s.Status = chat.SessionActive
	}
	collected := rec.Data.Collected()

	a.mu.Lock()
	a.seeds[s.ID] = []conversation.Option{
		conversation.WithHistory(rec.Messages(a.ids)),
		conversation.WithDataCollected(collected, s.Status == chat.SessionComplete),
	}
	a.mu.Unlock()

	if err := a.guard.Adopt(s); err != nil {
		a.mu.Lock()
		delete(a.seeds, s.ID)
		a.mu.Unlock()
		return chat.Session{}, err
	}
	return s, nil
}

func (a *App) loadGreeting(ctx context.Context) {
	v := a.View()
	if v == nil {
		return
	}
	g, err := a.backend.Greeting(ctx)
	if err != nil {
		a.logger.Debug().Err(err).Msg("greeting unavailable")
		return
	}
	v.SetGreeting(g)
}

// View returns the view of the current session, nil before the first session
// is installed.
func (a *App) View() *conversation.View {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	return a.current.view
}

func (a *App) rebuild(id session.Identity) {
	sessionID := id.Session.ID

	a.mu.Lock()
	seed := a.seeds[sessionID]
	delete(a.seeds, sessionID)
	a.mu.Unlock()

	viewOpts := append([]conversation.Option{
		conversation.WithObserver(conversation.CompletionObserverFunc(a.onCompletion)),
	}, seed...)
	next := &active{
		identity: id,
		view:     conversation.New(id.Session, viewOpts...),
		reducer: turn.New(sessionID, a.backend,
			turn.WithCurrentCheck(a.guard.IsCurrent),
			turn.WithIDSource(a.ids)),
	}

	a.mu.Lock()
	a.current = next
	listeners := append([]func(session.Identity){}, a.onIdentity...)
	a.mu.Unlock()

	a.logger.Info().Str("session_id", sessionID).Uint64("generation", id.Generation).Msg("conversation view rebuilt")
	if a.store != nil {
		if err := a.store.UpsertSession(context.Background(), id.Session); err != nil {
			a.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to record session")
		}
	}
	for _, l := range listeners {
		l(id)
	}
}

func (a *App) onCompletion(sessionID string, c chat.Completion) {
	if c.IsComplete {
		a.guard.MarkComplete(sessionID)
	}
	a.bus.OnCompletion(sessionID, c)
	for _, o := range a.extra {
		o.OnCompletion(sessionID, c)
	}
}

// Submit runs one turn against the current session. Updates are applied to
// the session's view before being passed to sink.
func (a *App) Submit(ctx context.Context, text string, sink func(turn.Update)) (turn.Result, error) {
	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()
	if cur == nil {
		return turn.Result{}, ErrNoSession
	}

	return cur.reducer.Submit(ctx, text, func(u turn.Update) {
		if !cur.view.Apply(u) {
			return
		}
		a.persist(u)
		if sink != nil {
			sink(u)
		}
	})
}

func (a *App) persist(u turn.Update) {
	if a.store == nil {
		return
	}
	var m chat.Message
	switch e := u.(type) {
	case turn.UserMessage:
		m = e.Message
	case turn.AssistantMessage:
		m = e.Message
	default:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.AppendMessage(ctx, u.Session(), m); err != nil {
		a.logger.Warn().Err(err).Str("session_id", u.Session()).Int64("message_id", m.ID).Msg("failed to record message")
	}
}

// RecordCompletions copies completion signals from the bus into the store
// until ctx is done. It returns immediately when no store is configured.
func (a *App) RecordCompletions(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	ch, err := a.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	for sig := range ch {
		err := a.store.RecordCompletion(ctx, sig.SessionID, chat.Completion{
			DataCollected: sig.DataCollected,
			IsComplete:    sig.IsComplete,
		}, sig.At)
		if err != nil && ctx.Err() == nil {
			a.logger.Warn().Err(err).Str("session_id", sig.SessionID).Msg("failed to record completion")
		}
	}
	return nil
}

func (a *App) Close() error {
	var first error
	if err := a.bus.Close(); err != nil {
		first = err
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
