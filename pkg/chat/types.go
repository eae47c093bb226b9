package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionComplete SessionStatus = "complete"
)

// Session is the backend-issued identity scoping a conversation.
type Session struct {
	ID        string        `json:"session_id" yaml:"session_id"`
	CreatedAt Timestamp     `json:"timestamp" yaml:"timestamp"`
	Status    SessionStatus `json:"status" yaml:"status"`
}

func (s Session) IsZero() bool {
	return s.ID == ""
}

// ShortID returns the first eight characters of the id, as shown in headers.
func (s Session) ShortID() string {
	if len(s.ID) <= 8 {
		return s.ID
	}
	return s.ID[:8]
}

// Message is one finalized entry of a conversation. Messages are immutable once
// appended to a view.
type Message struct {
	ID        int64     `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// DataCollected reports which of the tracked personal data fields the backend
// has extracted so far. The client never computes these flags itself.
type DataCollected struct {
	Name   bool `json:"name" yaml:"name"`
	Email  bool `json:"email" yaml:"email"`
	Income bool `json:"income" yaml:"income"`
}

// DataFieldCount is the number of tracked fields.
const DataFieldCount = 3

func (d DataCollected) Count() int {
	n := 0
	for _, b := range []bool{d.Name, d.Email, d.Income} {
		if b {
			n++
		}
	}
	return n
}

// Completion is the payload carried by a terminal done event.
type Completion struct {
	DataCollected DataCollected `json:"data_collected" yaml:"data_collected"`
	IsComplete    bool          `json:"is_complete" yaml:"is_complete"`
}

// timestampLayouts lists the layouts the backend has been seen to emit.
// Python's isoformat() omits the zone for naive datetimes.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Timestamp decodes the backend's timestamps leniently.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, errors.Errorf("unrecognised timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "timestamp")
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

func (t Timestamp) MarshalYAML() (interface{}, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.Format(time.RFC3339), nil
}
