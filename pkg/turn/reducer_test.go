package turn

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// scriptedStreamer replays a fixed list of events. When gate is set it waits
// for a value on it before each event.
type scriptedStreamer struct {
	events []chat.StreamEvent
	gate   chan struct{}
	calls  atomic.Int32
	onNext func(i int)
}

func (s *scriptedStreamer) StreamChat(ctx context.Context, sessionID, message string) iter.Seq[chat.StreamEvent] {
	s.calls.Add(1)
	return func(yield func(chat.StreamEvent) bool) {
		for i, ev := range s.events {
			if s.gate != nil {
				<-s.gate
			}
			if s.onNext != nil {
				s.onNext(i)
			}
			if !yield(ev) {
				return
			}
		}
	}
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) sink(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func ofType[T Update](r *recorder) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for _, u := range r.updates {
		if v, ok := u.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

var fixedNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newReducer(s Streamer, opts ...Option) *Reducer {
	return New("s1", s, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestSubmitFinalizesConcatenatedChunks(t *testing.T) {
	s := &scriptedStreamer{events: []chat.StreamEvent{
		chat.ChunkEvent{Content: "Hello"},
		chat.ChunkEvent{Content: " there"},
		chat.DoneEvent{Completion: chat.Completion{DataCollected: chat.DataCollected{Name: true}}},
	}}
	r := newReducer(s)
	rec := &recorder{}

	res, err := r.Submit(context.Background(), "Hi, I'm Ada", rec.sink)
	require.NoError(t, err)
	require.NotNil(t, res.Assistant)
	require.Equal(t, "Hello there", res.Assistant.Content)
	require.Equal(t, chat.RoleAssistant, res.Assistant.Role)
	require.Equal(t, "Hi, I'm Ada", res.User.Content)
	require.Greater(t, res.Assistant.ID, res.User.ID)
	require.Equal(t, &chat.Completion{DataCollected: chat.DataCollected{Name: true}}, res.Completion)
	require.Nil(t, res.Failure)

	require.Equal(t, "", r.Partial())
	require.Equal(t, PhaseIdle, r.Phase())

	require.Equal(t, []Update{
		UserMessage{SessionID: "s1", Message: res.User},
		PhaseChanged{SessionID: "s1", Phase: PhaseSending},
		PhaseChanged{SessionID: "s1", Phase: PhaseStreaming},
		PartialText{SessionID: "s1", Text: "Hello"},
		PartialText{SessionID: "s1", Text: "Hello there"},
		AssistantMessage{SessionID: "s1", Message: *res.Assistant},
		CompletionSignal{SessionID: "s1", Completion: *res.Completion},
		PhaseChanged{SessionID: "s1", Phase: PhaseFinalized},
		PhaseChanged{SessionID: "s1", Phase: PhaseIdle},
	}, rec.updates)
}

func TestSubmitDividendReply(t *testing.T) {
	s := &scriptedStreamer{events: []chat.StreamEvent{
		chat.ChunkEvent{Content: "Consider "},
		chat.ChunkEvent{Content: "looking at "},
		chat.ChunkEvent{Content: "dividend ETFs."},
		chat.DoneEvent{Completion: chat.Completion{DataCollected: chat.DataCollected{Name: true}}},
	}}
	r := newReducer(s)
	rec := &recorder{}

	res, err := r.Submit(context.Background(), "What should I invest in?", rec.sink)
	require.NoError(t, err)
	require.Equal(t, "Consider looking at dividend ETFs.", res.Assistant.Content)
	require.False(t, res.Completion.IsComplete)
	require.Equal(t, PhaseIdle, r.Phase())
	require.Equal(t, "", r.Partial())

	var texts []string
	for _, p := range ofType[PartialText](rec) {
		texts = append(texts, p.Text)
	}
	require.Equal(t, []string{"Consider ", "Consider looking at ", "Consider looking at dividend ETFs."}, texts)
	require.Len(t, ofType[CompletionSignal](rec), 1)
}

func TestSubmitChunksAreNotDeduplicated(t *testing.T) {
	s := &scriptedStreamer{events: []chat.StreamEvent{
		chat.ChunkEvent{Content: "ab"},
		chat.ChunkEvent{Content: "ab"},
		chat.ChunkEvent{Content: ""},
		chat.ChunkEvent{Content: "c"},
		chat.DoneEvent{},
	}}
	res, err := newReducer(s).Submit(context.Background(), "x", nil)
	require.NoError(t, err)
	require.Equal(t, "ababc", res.Assistant.Content)
}

func TestSubmitDoneWithoutChunksCommitsEmptyMessage(t *testing.T) {
	s := &scriptedStreamer{events: []chat.StreamEvent{chat.DoneEvent{Completion: chat.Completion{IsComplete: true}}}}
	res, err := newReducer(s).Submit(context.Background(), "x", nil)
	require.NoError(t, err)
	require.Equal(t, "", res.Assistant.Content)
	require.True(t, res.Completion.IsComplete)
}

func TestSubmitErrorDiscardsPartial(t *testing.T) {
	s := &scriptedStreamer{events: []chat.StreamEvent{
		chat.ChunkEvent{Content: "Hel"},
		chat.ErrorEvent{Kind: chat.KindServer, Message: "rate limited"},
	}}
	r := newReducer(s)
	rec := &recorder{}

	res, err := r.Submit(context.Background(), "hi", rec.sink)
	require.Error(t, err)
	var ev chat.ErrorEvent
	require.True(t, errors.As(err, &ev))
	require.Equal(t, "rate limited", ev.Message)
	require.Nil(t, res.Assistant)
	require.NotNil(t, res.Failure)
	require.Empty(t, ofType[AssistantMessage](rec))
	require.Len(t, ofType[TurnFailed](rec), 1)
	require.Equal(t, "", r.Partial())
	require.Equal(t, PhaseIdle, r.Phase())
}

func TestSubmitSynthesizesFailureWhenStreamEndsEarly(t *testing.T) {
	s := &scriptedStreamer{events: []chat.StreamEvent{chat.ChunkEvent{Content: "dangling"}}}
	rec := &recorder{}
	res, err := newReducer(s).Submit(context.Background(), "hi", rec.sink)
	require.Error(t, err)
	require.Equal(t, chat.KindTruncated, res.Failure.Kind)
	require.Empty(t, ofType[AssistantMessage](rec))
}

func TestSubmitRejectsEmptyText(t *testing.T) {
	s := &scriptedStreamer{}
	rec := &recorder{}
	_, err := newReducer(s).Submit(context.Background(), "  \n\t", rec.sink)
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Equal(t, int32(0), s.calls.Load())
	require.Empty(t, rec.updates)
}

func TestSubmitRejectsSecondTurnWhileStreaming(t *testing.T) {
	s := &scriptedStreamer{
		events: []chat.StreamEvent{chat.ChunkEvent{Content: "a"}, chat.DoneEvent{}},
		gate:   make(chan struct{}),
	}
	r := newReducer(s)

	done := make(chan error, 1)
	go func() {
		_, err := r.Submit(context.Background(), "first", nil)
		done <- err
	}()
	s.gate <- struct{}{}
	require.Eventually(t, func() bool { return r.Phase() == PhaseStreaming }, time.Second, time.Millisecond)

	_, err := r.Submit(context.Background(), "second", nil)
	require.ErrorIs(t, err, ErrTurnInFlight)

	s.gate <- struct{}{}
	require.NoError(t, <-done)
	require.Equal(t, int32(1), s.calls.Load())
	require.Equal(t, PhaseIdle, r.Phase())
}

func TestSubmitDropsResultsOfReplacedSession(t *testing.T) {
	var current atomic.Bool
	current.Store(true)
	s := &scriptedStreamer{
		events: []chat.StreamEvent{
			chat.ChunkEvent{Content: "old"},
			chat.ChunkEvent{Content: " news"},
			chat.DoneEvent{Completion: chat.Completion{IsComplete: true}},
		},
		onNext: func(i int) {
			if i == 1 {
				current.Store(false)
			}
		},
	}
	r := newReducer(s, WithCurrentCheck(func(id string) bool { return id == "s1" && current.Load() }))
	rec := &recorder{}

	res, err := r.Submit(context.Background(), "hi", rec.sink)
	require.ErrorIs(t, err, ErrStaleSession)
	require.Nil(t, res.Assistant)
	require.Empty(t, ofType[AssistantMessage](rec))
	require.Empty(t, ofType[CompletionSignal](rec))
	require.Len(t, ofType[PartialText](rec), 1)
	require.Equal(t, "", r.Partial())

	_, err = r.Submit(context.Background(), "again", rec.sink)
	require.ErrorIs(t, err, ErrStaleSession)
}
