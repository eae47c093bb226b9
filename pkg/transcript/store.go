package transcript

import (
	"context"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
)

// Store keeps a local record of committed turns. Only finalized messages are
// written; partial responses never reach the store.
type Store interface {
	UpsertSession(ctx context.Context, s chat.Session) error
	AppendMessage(ctx context.Context, sessionID string, m chat.Message) error
	RecordCompletion(ctx context.Context, sessionID string, c chat.Completion, at time.Time) error
	ListSessions(ctx context.Context, limit int) ([]SessionSummary, error)
	Messages(ctx context.Context, sessionID string) ([]chat.Message, error)
	Close() error
}

type SessionSummary struct {
	Session       chat.Session       `json:"session" yaml:"session"`
	MessageCount  int                `json:"message_count" yaml:"message_count"`
	DataCollected chat.DataCollected `json:"data_collected" yaml:"data_collected"`
	LastActivity  time.Time          `json:"last_activity" yaml:"last_activity"`
}
