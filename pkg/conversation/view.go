package conversation

import (
	"sync"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/go-go-golems/wizard-chat/pkg/turn"
)

const (
	DefaultGreeting = "Start chatting with the market wizard"
	DefaultHint     = "Ask about stocks, strategies, or market trends"
	CompleteBanner  = "All information collected! Email will be sent automatically."

	// NoticeTTL is how long a notice stays visible unless dismissed.
	NoticeTTL = 5 * time.Second
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

type Notice struct {
	Level   NoticeLevel
	Text    string
	Expires time.Time
}

// CompletionObserver receives each done signal of the view's session, once.
type CompletionObserver interface {
	OnCompletion(sessionID string, c chat.Completion)
}

type CompletionObserverFunc func(sessionID string, c chat.Completion)

func (f CompletionObserverFunc) OnCompletion(sessionID string, c chat.Completion) {
	f(sessionID, c)
}

// Snapshot is an immutable copy of the view, safe to render.
type Snapshot struct {
	Session       chat.Session
	Messages      []chat.Message
	Partial       string
	Phase         turn.Phase
	DataCollected chat.DataCollected
	Complete      bool
	Notice        *Notice
	Greeting      string
	// ScrollToBottom and FocusComposer are one-shot flags cleared by Consume.
	ScrollToBottom bool
	FocusComposer  bool
}

func (s Snapshot) ComposerEnabled() bool {
	return !s.Phase.Busy()
}

func (s Snapshot) Empty() bool {
	return len(s.Messages) == 0 && !s.Phase.Busy()
}

// View holds the conversation state of one session. A new view is built for
// every session identity; a view never changes session.
type View struct {
	session   chat.Session
	observers []CompletionObserver
	now       func() time.Time

	mu        sync.Mutex
	messages  []chat.Message
	partial   string
	phase     turn.Phase
	data      chat.DataCollected
	complete  bool
	notice    *Notice
	greeting  string
	scroll    bool
	focus     bool
	signalled map[int64]struct{}
}

type Option func(*View)

func WithObserver(o CompletionObserver) Option {
	return func(v *View) {
		if o != nil {
			v.observers = append(v.observers, o)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

// WithHistory seeds the view with messages already exchanged in the session.
func WithHistory(msgs []chat.Message) Option {
	return func(v *View) { v.messages = append(v.messages, msgs...) }
}

func WithDataCollected(d chat.DataCollected, complete bool) Option {
	return func(v *View) {
		v.data = d
		v.complete = complete
	}
}

func New(s chat.Session, opts ...Option) *View {
	v := &View{
		session:   s,
		now:       time.Now,
		greeting:  DefaultGreeting,
		focus:     true,
		signalled: map[int64]struct{}{},
	}
	for _, o := range opts {
		o(v)
	}
	if s.Status == chat.SessionComplete {
		v.complete = true
	}
	return v
}

func (v *View) Session() chat.Session {
	return v.session
}

// Apply folds a reducer update into the view. Updates for other sessions are
// ignored and reported as not applied.
func (v *View) Apply(u turn.Update) bool {
	if u == nil || u.Session() != v.session.ID {
		return false
	}

	var notify *chat.Completion
	v.mu.Lock()
	switch e := u.(type) {
	case turn.PhaseChanged:
		v.phase = e.Phase
		if e.Phase == turn.PhaseSending {
			v.partial = ""
			v.scroll = true
		}
	case turn.UserMessage:
		v.messages = append(v.messages, e.Message)
		v.scroll = true
	case turn.PartialText:
		v.partial = e.Text
		v.scroll = true
	case turn.AssistantMessage:
		v.messages = append(v.messages, e.Message)
		v.partial = ""
		v.scroll = true
		v.focus = true
	case turn.CompletionSignal:
		v.data = e.DataCollected
		if e.IsComplete {
			v.complete = true
		}
		// one signal per committed assistant message
		last := v.lastAssistantID()
		if _, seen := v.signalled[last]; !seen {
			v.signalled[last] = struct{}{}
			c := e.Completion
			notify = &c
		}
	case turn.TurnFailed:
		v.partial = ""
		v.focus = true
		v.notice = &Notice{
			Level:   NoticeError,
			Text:    "Error: " + e.Failure.Message,
			Expires: v.now().Add(NoticeTTL),
		}
	}
	observers := v.observers
	v.mu.Unlock()

	if notify != nil {
		for _, o := range observers {
			o.OnCompletion(v.session.ID, *notify)
		}
	}
	return true
}

func (v *View) lastAssistantID() int64 {
	for i := len(v.messages) - 1; i >= 0; i-- {
		if v.messages[i].Role == chat.RoleAssistant {
			return v.messages[i].ID
		}
	}
	return 0
}

// Notify shows a notice that is not tied to a turn.
func (v *View) Notify(level NoticeLevel, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notice = &Notice{Level: level, Text: text, Expires: v.now().Add(NoticeTTL)}
}

func (v *View) DismissNotice() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notice = nil
}

// ExpireNotice drops the notice once its time is up. It reports whether a
// notice was removed.
func (v *View) ExpireNotice() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.notice == nil || v.now().Before(v.notice.Expires) {
		return false
	}
	v.notice = nil
	return true
}

func (v *View) SetGreeting(g string) {
	if g == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.greeting = g
}

// SetDataCollected applies a snapshot pushed outside a turn, e.g. over the
// notification socket.
func (v *View) SetDataCollected(d chat.DataCollected, complete bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data = d
	if complete {
		v.complete = true
	}
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Consume returns a snapshot and clears the one-shot scroll and focus flags.
func (v *View) Consume() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.snapshotLocked()
	v.scroll = false
	v.focus = false
	return s
}

func (v *View) snapshotLocked() Snapshot {
	msgs := make([]chat.Message, len(v.messages))
	copy(msgs, v.messages)
	var n *Notice
	if v.notice != nil {
		cp := *v.notice
		n = &cp
	}
	sess := v.session
	if v.complete {
		sess.Status = chat.SessionComplete
	}
	return Snapshot{
		Session:        sess,
		Messages:       msgs,
		Partial:        v.partial,
		Phase:          v.phase,
		DataCollected:  v.data,
		Complete:       v.complete,
		Notice:         n,
		Greeting:       v.greeting,
		ScrollToBottom: v.scroll,
		FocusComposer:  v.focus,
	}
}
