package admin

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleDashboard() Dashboard {
	name := "Ada"
	return Dashboard{
		Statistics: Statistics{
			TotalSessions:     4,
			CompletedSessions: 1,
			ActiveSessions:    3,
			TotalMessages:     12,
			DataCollection:    DataCollectionStats{NamesCollected: 2, EmailsCollected: 1, IncomesCollected: 1, CompletionRate: 25},
		},
		SystemHealth: SystemHealth{RAGReady: true, StorageReady: true, RAGVectors: 120},
		RecentSessions: []chat.SessionRecord{{
			SessionID: "0123456789abcdef",
			Timestamp: chat.NewTimestamp(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
			Data:      chat.PersonalData{Name: &name},
			Status:    chat.SessionActive,
			ConversationHistory: []chat.HistoryEntry{
				{Role: chat.RoleUser, Content: "hi"},
			},
		}},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatText, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	require.Error(t, err)
}

func TestRenderDashboardText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderDashboard(&buf, FormatText, sampleDashboard()))
	out := buf.String()
	require.Contains(t, out, "Total sessions")
	require.Contains(t, out, "25.0%")
	require.Contains(t, out, "120 vectors")
	require.Contains(t, out, "Recent sessions")
	require.Contains(t, out, "01234567")
}

func TestRenderDashboardJSONAndYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderDashboard(&buf, FormatJSON, sampleDashboard()))
	var decoded Dashboard
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, 4, decoded.Statistics.TotalSessions)
	require.Equal(t, "Ada", *decoded.RecentSessions[0].Data.Name)

	buf.Reset()
	require.NoError(t, RenderDashboard(&buf, FormatYAML, sampleDashboard()))
	var m map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &m))
	require.Contains(t, m, "statistics")
	require.Contains(t, buf.String(), "rag_vectors: 120")
}

func TestRenderSessionsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderSessions(&buf, FormatText, nil))
	require.Contains(t, buf.String(), "no sessions")
}

func TestRenderSessionHistory(t *testing.T) {
	var buf bytes.Buffer
	r := sampleDashboard().RecentSessions[0]
	require.NoError(t, RenderSession(&buf, FormatText, r))
	require.Contains(t, buf.String(), "Session 0123456789abcdef")
	require.Contains(t, buf.String(), "Ada")
	require.Contains(t, buf.String(), "hi")
}

func TestRenderSettingsAndHealth(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderSettings(&buf, FormatText, Settings{}))
	require.Contains(t, buf.String(), "(not set)")

	buf.Reset()
	require.NoError(t, RenderHealth(&buf, FormatText, Health{Status: "healthy", RAGReady: true}))
	require.Contains(t, buf.String(), "healthy")

	buf.Reset()
	require.NoError(t, RenderHealth(&buf, FormatJSON, Health{Status: "degraded"}))
	require.Contains(t, buf.String(), `"status": "degraded"`)
}

func TestSettingsUpdateValidate(t *testing.T) {
	require.ErrorIs(t, SettingsUpdate{RecipientEmail: "nobody"}.Validate(), ErrInvalidEmail)
	require.ErrorIs(t, SettingsUpdate{}.Validate(), ErrInvalidEmail)
	require.NoError(t, SettingsUpdate{RecipientEmail: "ops@example.com"}.Validate())
}
