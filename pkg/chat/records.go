package chat

import "strings"

// PersonalData holds the field values the backend extracted. Values are nil
// until collected.
type PersonalData struct {
	Name   *string `json:"name" yaml:"name"`
	Email  *string `json:"email" yaml:"email"`
	Income *string `json:"income" yaml:"income"`
}

func (p PersonalData) Collected() DataCollected {
	set := func(v *string) bool { return v != nil && strings.TrimSpace(*v) != "" }
	return DataCollected{Name: set(p.Name), Email: set(p.Email), Income: set(p.Income)}
}

type HistoryEntry struct {
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp Timestamp `json:"timestamp" yaml:"timestamp"`
}

// SessionRecord is the backend's stored view of a session, as returned by the
// session lookup and listing endpoints and embedded in the admin dashboard.
type SessionRecord struct {
	SessionID           string         `json:"session_id" yaml:"session_id"`
	Timestamp           Timestamp      `json:"timestamp" yaml:"timestamp"`
	Data                PersonalData   `json:"data" yaml:"data"`
	ConversationHistory []HistoryEntry `json:"conversation_history" yaml:"conversation_history"`
	Status              SessionStatus  `json:"status" yaml:"status"`
	CompletedAt         *Timestamp     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	MessageCount        int            `json:"message_count,omitempty" yaml:"message_count,omitempty"`
}

// Messages returns the history as messages with locally assigned ids.
func (r SessionRecord) Messages(ids *IDSource) []Message {
	out := make([]Message, 0, len(r.ConversationHistory))
	for _, h := range r.ConversationHistory {
		out = append(out, Message{
			ID:        ids.Next(),
			Role:      h.Role,
			Content:   h.Content,
			Timestamp: h.Timestamp.Time,
		})
	}
	return out
}
