package chatapp

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/go-go-golems/wizard-chat/pkg/session"
	"github.com/go-go-golems/wizard-chat/pkg/transcript"
	"github.com/go-go-golems/wizard-chat/pkg/turn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeBackend scripts one event list per submitted message.
type fakeBackend struct {
	mu        sync.Mutex
	created   int
	failNext  error
	scripts   map[string][]chat.StreamEvent
	gates     map[string]chan struct{}
	greeting  string
	records   map[string]chat.SessionRecord
	streamFor []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		scripts: map[string][]chat.StreamEvent{},
		gates:   map[string]chan struct{}{},
		records: map[string]chat.SessionRecord{},
	}
}

func (b *fakeBackend) CreateSession(ctx context.Context) (chat.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return chat.Session{}, err
	}
	b.created++
	return chat.Session{ID: fmt.Sprintf("s%d", b.created), Status: chat.SessionActive}, nil
}

func (b *fakeBackend) StreamChat(ctx context.Context, sessionID, message string) iter.Seq[chat.StreamEvent] {
	b.mu.Lock()
	events := b.scripts[message]
	gate := b.gates[message]
	b.streamFor = append(b.streamFor, sessionID)
	b.mu.Unlock()
	return func(yield func(chat.StreamEvent) bool) {
		for _, ev := range events {
			if gate != nil {
				<-gate
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func (b *fakeBackend) Greeting(ctx context.Context) (string, error) {
	if b.greeting == "" {
		return "", errors.New("no greeting")
	}
	return b.greeting, nil
}

func (b *fakeBackend) GetSession(ctx context.Context, sessionID string) (chat.SessionRecord, error) {
	r, ok := b.records[sessionID]
	if !ok {
		return chat.SessionRecord{}, errors.New("HTTP error! status: 404")
	}
	return r, nil
}

func TestHappyTurn(t *testing.T) {
	b := newFakeBackend()
	b.greeting = "Hey, I'm the wizard"
	b.scripts["Hi, I'm Ada"] = []chat.StreamEvent{
		chat.ChunkEvent{Content: "Hello"},
		chat.ChunkEvent{Content: " there"},
		chat.DoneEvent{Completion: chat.Completion{DataCollected: chat.DataCollected{Name: true}}},
	}
	app := New(b)
	t.Cleanup(func() { _ = app.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	signals, err := app.Bus().Subscribe(ctx)
	require.NoError(t, err)

	s, err := app.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, "s1", s.ID)
	require.Equal(t, "Hey, I'm the wizard", app.View().Snapshot().Greeting)

	var seen []turn.Update
	_, err = app.Submit(ctx, "Hi, I'm Ada", func(u turn.Update) { seen = append(seen, u) })
	require.NoError(t, err)
	require.NotEmpty(t, seen)

	snap := app.View().Snapshot()
	require.Len(t, snap.Messages, 2)
	require.Equal(t, chat.RoleUser, snap.Messages[0].Role)
	require.Equal(t, "Hi, I'm Ada", snap.Messages[0].Content)
	require.Equal(t, chat.RoleAssistant, snap.Messages[1].Role)
	require.Equal(t, "Hello there", snap.Messages[1].Content)
	require.Equal(t, chat.DataCollected{Name: true}, snap.DataCollected)
	require.False(t, snap.Complete)
	require.Equal(t, "", snap.Partial)

	sig := <-signals
	require.Equal(t, "s1", sig.SessionID)
	require.Equal(t, 1, sig.Collected)
}

func TestTransportErrorMidStream(t *testing.T) {
	b := newFakeBackend()
	b.scripts["hi"] = []chat.StreamEvent{
		chat.ChunkEvent{Content: "Hel"},
		chat.ErrorEvent{Kind: chat.KindServer, Message: "rate limited"},
	}
	app := New(b)
	t.Cleanup(func() { _ = app.Close() })

	_, err := app.Start(context.Background())
	require.NoError(t, err)

	_, err = app.Submit(context.Background(), "hi", nil)
	require.Error(t, err)

	snap := app.View().Snapshot()
	require.Len(t, snap.Messages, 1)
	require.Equal(t, chat.RoleUser, snap.Messages[0].Role)
	require.Equal(t, "", snap.Partial)
	require.NotNil(t, snap.Notice)
	require.Contains(t, snap.Notice.Text, "rate limited")
	require.True(t, snap.ComposerEnabled())
}

func TestCompletionMarksSessionComplete(t *testing.T) {
	b := newFakeBackend()
	b.scripts["my income is 100k"] = []chat.StreamEvent{
		chat.ChunkEvent{Content: "Thanks!"},
		chat.DoneEvent{Completion: chat.Completion{
			DataCollected: chat.DataCollected{Name: true, Email: true, Income: true},
			IsComplete:    true,
		}},
	}
	app := New(b)
	t.Cleanup(func() { _ = app.Close() })

	_, err := app.Start(context.Background())
	require.NoError(t, err)
	_, err = app.Submit(context.Background(), "my income is 100k", nil)
	require.NoError(t, err)

	id, ok := app.Guard().Current()
	require.True(t, ok)
	require.Equal(t, chat.SessionComplete, id.Session.Status)
	require.True(t, app.View().Snapshot().Complete)
}

func TestNewSessionResetsViewAndDropsStaleStream(t *testing.T) {
	b := newFakeBackend()
	gate := make(chan struct{})
	b.gates["slow"] = gate
	b.scripts["slow"] = []chat.StreamEvent{
		chat.ChunkEvent{Content: "late"},
		chat.DoneEvent{Completion: chat.Completion{DataCollected: chat.DataCollected{Email: true}, IsComplete: true}},
	}
	b.scripts["first"] = []chat.StreamEvent{
		chat.ChunkEvent{Content: "ok"},
		chat.DoneEvent{Completion: chat.Completion{DataCollected: chat.DataCollected{Name: true}}},
	}
	app := New(b)
	t.Cleanup(func() { _ = app.Close() })

	var identities []session.Identity
	app.OnIdentity(func(id session.Identity) { identities = append(identities, id) })

	_, err := app.Start(context.Background())
	require.NoError(t, err)
	_, err = app.Submit(context.Background(), "first", nil)
	require.NoError(t, err)
	oldView := app.View()

	done := make(chan error, 1)
	go func() {
		_, err := app.Submit(context.Background(), "slow", nil)
		done <- err
	}()
	gate <- struct{}{}
	require.Eventually(t, func() bool { return oldView.Snapshot().Partial == "late" }, time.Second, time.Millisecond)

	s2, err := app.NewSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "s2", s2.ID)

	close(gate)
	require.ErrorIs(t, <-done, turn.ErrStaleSession)

	snap := app.View().Snapshot()
	require.Equal(t, "s2", snap.Session.ID)
	require.Empty(t, snap.Messages)
	require.Equal(t, chat.DataCollected{}, snap.DataCollected)
	require.False(t, snap.Complete)
	require.Equal(t, "", snap.Partial)

	id, _ := app.Guard().Current()
	require.Equal(t, chat.SessionActive, id.Session.Status)
	require.Len(t, identities, 2)
}

func TestStartFailureThenRetry(t *testing.T) {
	b := newFakeBackend()
	b.failNext = errors.New("connection refused")
	app := New(b)
	t.Cleanup(func() { _ = app.Close() })

	_, err := app.Start(context.Background())
	require.ErrorIs(t, err, session.ErrCreationFailed)
	require.Nil(t, app.View())

	_, err = app.Submit(context.Background(), "hi", nil)
	require.ErrorIs(t, err, ErrNoSession)

	s, err := app.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, "s1", s.ID)
	require.NotNil(t, app.View())
}

func TestResumeSeedsHistory(t *testing.T) {
	b := newFakeBackend()
	name := "Ada"
	b.records["old"] = chat.SessionRecord{
		SessionID: "old",
		Status:    chat.SessionActive,
		Data:      chat.PersonalData{Name: &name},
		ConversationHistory: []chat.HistoryEntry{
			{Role: chat.RoleUser, Content: "I'm Ada"},
			{Role: chat.RoleAssistant, Content: "Nice to meet you"},
		},
	}
	app := New(b)
	t.Cleanup(func() { _ = app.Close() })

	s, err := app.Resume(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, "old", s.ID)

	snap := app.View().Snapshot()
	require.Len(t, snap.Messages, 2)
	require.True(t, snap.DataCollected.Name)

	_, err = app.Resume(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, "old", app.View().Session().ID)
}

func TestTranscriptRecordsCommittedTurns(t *testing.T) {
	dsn, err := transcript.DSNForFile(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	store, err := transcript.NewSQLiteStore(dsn)
	require.NoError(t, err)

	b := newFakeBackend()
	b.scripts["hi"] = []chat.StreamEvent{
		chat.ChunkEvent{Content: "hey"},
		chat.DoneEvent{Completion: chat.Completion{DataCollected: chat.DataCollected{Name: true, Email: true, Income: true}, IsComplete: true}},
	}
	b.scripts["bad"] = []chat.StreamEvent{chat.ChunkEvent{Content: "nope"}}
	app := New(b, WithStore(store))
	t.Cleanup(func() { _ = app.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recorded := make(chan error, 1)
	go func() { recorded <- app.RecordCompletions(ctx) }()

	_, err = app.Start(ctx)
	require.NoError(t, err)
	// let the recorder subscribe before the first signal is published
	time.Sleep(50 * time.Millisecond)

	_, err = app.Submit(ctx, "hi", nil)
	require.NoError(t, err)
	_, err = app.Submit(ctx, "bad", nil)
	require.Error(t, err)

	msgs, err := store.Messages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "hey", msgs[1].Content)
	require.Equal(t, "bad", msgs[2].Content)

	require.Eventually(t, func() bool {
		list, err := store.ListSessions(ctx, 10)
		return err == nil && len(list) == 1 && list[0].Session.Status == chat.SessionComplete
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-recorded)
}

// countingObserver records every completion it is handed.
type countingObserver struct {
	mu    sync.Mutex
	calls []chat.Completion
	ids   []string
}

func (o *countingObserver) OnCompletion(sessionID string, c chat.Completion) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ids = append(o.ids, sessionID)
	o.calls = append(o.calls, c)
}

func (o *countingObserver) completions() []chat.Completion {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]chat.Completion(nil), o.calls...)
}

func TestDividendReplyIsAssembledFromChunks(t *testing.T) {
	b := newFakeBackend()
	b.scripts["What should I invest in?"] = []chat.StreamEvent{
		chat.ChunkEvent{Content: "Consider "},
		chat.ChunkEvent{Content: "looking at "},
		chat.ChunkEvent{Content: "dividend ETFs."},
		chat.DoneEvent{Completion: chat.Completion{DataCollected: chat.DataCollected{Name: true}}},
	}
	obs := &countingObserver{}
	app := New(b, WithObserver(obs))
	t.Cleanup(func() { _ = app.Close() })

	_, err := app.Start(context.Background())
	require.NoError(t, err)

	var partials []string
	res, err := app.Submit(context.Background(), "What should I invest in?", func(u turn.Update) {
		if p, ok := u.(turn.PartialText); ok {
			partials = append(partials, p.Text)
		}
	})
	require.NoError(t, err)
	require.Equal(t, "Consider looking at dividend ETFs.", res.Assistant.Content)
	require.Equal(t, []string{
		"Consider ",
		"Consider looking at ",
		"Consider looking at dividend ETFs.",
	}, partials)

	snap := app.View().Snapshot()
	require.Len(t, snap.Messages, 2)
	require.Equal(t, "Consider looking at dividend ETFs.", snap.Messages[1].Content)
	require.Equal(t, "", snap.Partial)
	require.True(t, snap.ComposerEnabled())
	require.False(t, snap.Complete)
	require.Equal(t, []chat.Completion{{DataCollected: chat.DataCollected{Name: true}}}, obs.completions())
}

func TestThreeTurnsSignalCompletionExactlyOnce(t *testing.T) {
	final := chat.Completion{
		DataCollected: chat.DataCollected{Name: true, Email: true, Income: true},
		IsComplete:    true,
	}
	b := newFakeBackend()
	b.scripts["I'm Ada"] = []chat.StreamEvent{
		chat.ChunkEvent{Content: "Hi Ada, what's your email?"},
		chat.DoneEvent{Completion: chat.Completion{DataCollected: chat.DataCollected{Name: true}}},
	}
	b.scripts["ada@example.com"] = []chat.StreamEvent{
		chat.ChunkEvent{Content: "Thanks. And your income?"},
		chat.DoneEvent{Completion: chat.Completion{DataCollected: chat.DataCollected{Name: true, Email: true}}},
	}
	b.scripts["about 100k"] = []chat.StreamEvent{
		chat.ChunkEvent{Content: "All set."},
		chat.DoneEvent{Completion: final},
	}
	obs := &countingObserver{}
	app := New(b, WithObserver(obs))
	t.Cleanup(func() { _ = app.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	published, err := app.Bus().Subscribe(ctx)
	require.NoError(t, err)

	_, err = app.Start(ctx)
	require.NoError(t, err)
	for _, text := range []string{"I'm Ada", "ada@example.com", "about 100k"} {
		_, err := app.Submit(ctx, text, nil)
		require.NoError(t, err)
	}

	got := obs.completions()
	require.Len(t, got, 3)
	var complete []chat.Completion
	for _, c := range got {
		if c.IsComplete {
			complete = append(complete, c)
		}
	}
	require.Equal(t, []chat.Completion{final}, complete)
	obs.mu.Lock()
	require.Equal(t, []string{"s1", "s1", "s1"}, obs.ids)
	obs.mu.Unlock()

	// a replayed signal for the same reply is not forwarded again
	require.True(t, app.View().Apply(turn.CompletionSignal{SessionID: "s1", Completion: final}))
	require.Len(t, obs.completions(), 3)

	snap := app.View().Snapshot()
	require.True(t, snap.Complete)
	require.Equal(t, chat.DataFieldCount, snap.DataCollected.Count())
	id, _ := app.Guard().Current()
	require.Equal(t, chat.SessionComplete, id.Session.Status)

	var completeSignals int
	for i := 0; i < 3; i++ {
		sig := <-published
		if sig.IsComplete {
			completeSignals++
			require.Equal(t, final.DataCollected, sig.DataCollected)
		}
	}
	require.Equal(t, 1, completeSignals)
}
