package turn

import (
	"fmt"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
)

// Phase is the reducer's per-turn state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseStreaming
	PhaseFinalized
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalized:
		return "finalized"
	case PhaseErrored:
		return "errored"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Busy reports whether a turn is in flight.
func (p Phase) Busy() bool {
	return p == PhaseSending || p == PhaseStreaming
}

// Update is emitted by a reducer while a turn progresses. Every update carries
// the id of the session the turn was started for.
type Update interface {
	Session() string
}

type PhaseChanged struct {
	SessionID string
	Phase     Phase
}

type UserMessage struct {
	SessionID string
	Message   chat.Message
}

// PartialText carries the whole accumulated partial response, not a delta.
type PartialText struct {
	SessionID string
	Text      string
}

type AssistantMessage struct {
	SessionID string
	Message   chat.Message
}

type CompletionSignal struct {
	SessionID string
	chat.Completion
}

type TurnFailed struct {
	SessionID string
	Failure   chat.ErrorEvent
}

func (u PhaseChanged) Session() string     { return u.SessionID }
func (u UserMessage) Session() string      { return u.SessionID }
func (u PartialText) Session() string      { return u.SessionID }
func (u AssistantMessage) Session() string { return u.SessionID }
func (u CompletionSignal) Session() string { return u.SessionID }
func (u TurnFailed) Session() string       { return u.SessionID }
