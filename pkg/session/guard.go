package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the guard's creation token.
type State int

const (
	StateIdle State = iota
	StateInProgress
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInProgress:
		return "in-progress"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrCreationInProgress is returned when a create or replace is requested
	// while another one has not finished. No request is made.
	ErrCreationInProgress = errors.New("session creation already in progress")
	// ErrCreationFailed wraps every backend failure to create a session.
	ErrCreationFailed = errors.New("failed to create session")
)

type Creator interface {
	CreateSession(ctx context.Context) (chat.Session, error)
}

// Identity is a session together with the generation it was installed in.
// Every successful create or replace bumps the generation.
type Identity struct {
	Session    chat.Session
	Generation uint64
}

// Guard owns the current session. At most one creation is in flight at any
// time and Initialize and Replace exclude each other.
type Guard struct {
	creator Creator
	logger  zerolog.Logger

	mu         sync.Mutex
	state      State
	current    chat.Session
	generation uint64
	lastErr    error
	listeners  map[int]func(Identity)
	nextID     int
}

func NewGuard(creator Creator) *Guard {
	return &Guard{
		creator:   creator,
		logger:    log.Logger.With().Str("component", "session_guard").Logger(),
		listeners: map[int]func(Identity){},
	}
}

// Initialize creates the first session. It returns the existing session when
// one is already installed and ErrCreationInProgress when a creation is
// running.
func (g *Guard) Initialize(ctx context.Context) (chat.Session, error) {
	g.mu.Lock()
	if g.state == StateInProgress {
		g.mu.Unlock()
		g.logger.Debug().Msg("initialize skipped: creation in progress")
		return chat.Session{}, ErrCreationInProgress
	}
	if !g.current.IsZero() {
		s := g.current
		g.mu.Unlock()
		return s, nil
	}
	g.state = StateInProgress
	g.mu.Unlock()

	return g.create(ctx, "initialize")
}

// Replace discards the current session and installs a fresh one. When the
// backend call fails the previous session stays current.
func (g *Guard) Replace(ctx context.Context) (chat.Session, error) {
	g.mu.Lock()
	if g.state == StateInProgress {
		g.mu.Unlock()
		g.logger.Debug().Msg("replace skipped: creation in progress")
		return chat.Session{}, ErrCreationInProgress
	}
	g.state = StateInProgress
	g.mu.Unlock()

	return g.create(ctx, "replace")
}

// Adopt installs an existing session, e.g. one resumed by id.
func (g *Guard) Adopt(s chat.Session) error {
	if s.IsZero() {
		return errors.New("adopt: session id is empty")
	}
	g.mu.Lock()
	if g.state == StateInProgress {
		g.mu.Unlock()
		return ErrCreationInProgress
	}
	g.state = StateInProgress
	g.mu.Unlock()
	defer g.release()

	g.install(s)
	return nil
}

func (g *Guard) create(ctx context.Context, op string) (chat.Session, error) {
	defer g.release()

	g.logger.Debug().Str("op", op).Msg("creating session")
	s, err := g.creator.CreateSession(ctx)
	if err == nil && s.IsZero() {
		err = errors.New("backend returned an empty session id")
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrCreationFailed, err)
		g.mu.Lock()
		g.lastErr = err
		g.mu.Unlock()
		g.logger.Warn().Err(err).Str("op", op).Msg("session creation failed")
		return chat.Session{}, err
	}
	if s.Status == "" {
		s.Status = chat.SessionActive
	}
	g.install(s)
	g.logger.Info().Str("op", op).Str("session_id", s.ID).Msg("session installed")
	return s, nil
}

// install swaps the session and notifies listeners. It runs while the state
// token is held, so notifications are delivered in generation order.
func (g *Guard) install(s chat.Session) {
	g.mu.Lock()
	g.current = s
	g.generation++
	g.lastErr = nil
	id := Identity{Session: s, Generation: g.generation}
	listeners := make([]func(Identity), 0, len(g.listeners))
	for _, l := range g.listeners {
		listeners = append(listeners, l)
	}
	g.mu.Unlock()

	for _, l := range listeners {
		l(id)
	}
}

func (g *Guard) release() {
	g.mu.Lock()
	g.state = StateIdle
	g.mu.Unlock()
}

// Subscribe registers fn to be called with every newly installed identity.
// fn must not call Initialize, Replace or Adopt synchronously.
func (g *Guard) Subscribe(fn func(Identity)) (unsubscribe func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) Current() (Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current.IsZero() {
		return Identity{}, false
	}
	return Identity{Session: g.current, Generation: g.generation}, true
}

// IsCurrent reports whether sessionID is the installed session.
func (g *Guard) IsCurrent(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sessionID != "" && g.current.ID == sessionID
}

// MarkComplete moves the installed session to complete. It is a no-op for any
// other session id.
func (g *Guard) MarkComplete(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sessionID == "" || g.current.ID != sessionID {
		return false
	}
	if g.current.Status == chat.SessionComplete {
		return false
	}
	g.current.Status = chat.SessionComplete
	g.logger.Info().Str("session_id", sessionID).Msg("session complete")
	return true
}

// LastError returns the error of the most recent failed creation, cleared by
// the next successful one.
func (g *Guard) LastError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}
