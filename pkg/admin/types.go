package admin

import (
	"strings"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/pkg/errors"
)

type DataCollectionStats struct {
	NamesCollected   int     `json:"names_collected" yaml:"names_collected"`
	EmailsCollected  int     `json:"emails_collected" yaml:"emails_collected"`
	IncomesCollected int     `json:"incomes_collected" yaml:"incomes_collected"`
	CompletionRate   float64 `json:"completion_rate" yaml:"completion_rate"`
}

type Statistics struct {
	TotalSessions     int                 `json:"total_sessions" yaml:"total_sessions"`
	CompletedSessions int                 `json:"completed_sessions" yaml:"completed_sessions"`
	ActiveSessions    int                 `json:"active_sessions" yaml:"active_sessions"`
	TotalMessages     int                 `json:"total_messages" yaml:"total_messages"`
	DataCollection    DataCollectionStats `json:"data_collection" yaml:"data_collection"`
}

type SystemHealth struct {
	RAGReady     bool `json:"rag_ready" yaml:"rag_ready"`
	StorageReady bool `json:"storage_ready" yaml:"storage_ready"`
	EmailReady   bool `json:"email_ready" yaml:"email_ready"`
	RAGVectors   int  `json:"rag_vectors" yaml:"rag_vectors"`
}

// Dashboard is the aggregate view served by the admin endpoint.
type Dashboard struct {
	Statistics     Statistics           `json:"statistics" yaml:"statistics"`
	SystemHealth   SystemHealth         `json:"system_health" yaml:"system_health"`
	RecentSessions []chat.SessionRecord `json:"recent_sessions" yaml:"recent_sessions"`
}

type Settings struct {
	RecipientEmail            string `json:"recipient_email" yaml:"recipient_email"`
	EmailNotificationsEnabled bool   `json:"email_notifications_enabled" yaml:"email_notifications_enabled"`
	AutoSendOnComplete        bool   `json:"auto_send_on_complete" yaml:"auto_send_on_complete"`
	IsConfigured              bool   `json:"is_configured" yaml:"is_configured"`
}

type SettingsUpdate struct {
	RecipientEmail string `json:"recipient_email"`
}

var ErrInvalidEmail = errors.New("please enter a valid email address")

// Validate applies the same check the backend's settings form uses.
func (u SettingsUpdate) Validate() error {
	email := strings.TrimSpace(u.RecipientEmail)
	if email == "" || !strings.Contains(email, "@") {
		return ErrInvalidEmail
	}
	return nil
}

// Health is the backend's liveness report.
type Health struct {
	Status       string `json:"status" yaml:"status"`
	RAGReady     bool   `json:"rag_ready" yaml:"rag_ready"`
	StorageReady bool   `json:"storage_ready" yaml:"storage_ready"`
	EmailReady   bool   `json:"email_ready" yaml:"email_ready"`
}

func (h Health) OK() bool {
	return strings.EqualFold(h.Status, "healthy") || strings.EqualFold(h.Status, "ok")
}
