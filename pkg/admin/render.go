package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	}
	return "", errors.Errorf("unknown output format %q", s)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("118"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

// Encode writes v as json or yaml. It reports false for the text format so the
// caller can fall through to its own rendering.
func Encode(w io.Writer, f Format, v any) (bool, error) {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, errors.Wrap(enc.Encode(v), "encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, errors.Wrap(err, "encode yaml")
		}
		return true, errors.Wrap(enc.Close(), "encode yaml")
	}
	return false, nil
}

func status(ok bool) string {
	if ok {
		return okStyle.Render("✓ ready")
	}
	return badStyle.Render("✗ down")
}

func check(ok bool) string {
	if ok {
		return okStyle.Render("✓")
	}
	return labelStyle.Render("·")
}

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-20s", label)) + value
}

func RenderDashboard(w io.Writer, f Format, d Dashboard) error {
	if done, err := Encode(w, f, d); done {
		return err
	}
	s := d.Statistics
	dc := s.DataCollection
	stats := strings.Join([]string{
		titleStyle.Render("Statistics"),
		row("Total sessions", fmt.Sprint(s.TotalSessions)),
		row("Completed", fmt.Sprint(s.CompletedSessions)),
		row("Active", fmt.Sprint(s.ActiveSessions)),
		row("Messages", fmt.Sprint(s.TotalMessages)),
		row("Names collected", fmt.Sprint(dc.NamesCollected)),
		row("Emails collected", fmt.Sprint(dc.EmailsCollected)),
		row("Incomes collected", fmt.Sprint(dc.IncomesCollected)),
		row("Completion rate", fmt.Sprintf("%.1f%%", dc.CompletionRate)),
	}, "\n")
	h := d.SystemHealth
	health := strings.Join([]string{
		titleStyle.Render("System health"),
		row("RAG", status(h.RAGReady)+labelStyle.Render(fmt.Sprintf(" (%d vectors)", h.RAGVectors))),
		row("Storage", status(h.StorageReady)),
		row("Email", status(h.EmailReady)),
	}, "\n")

	out := lipgloss.JoinHorizontal(lipgloss.Top, boxStyle.Render(stats), " ", boxStyle.Render(health))
	if _, err := fmt.Fprintln(w, out); err != nil {
		return err
	}
	if len(d.RecentSessions) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, titleStyle.Render("Recent sessions")); err != nil {
		return err
	}
	return writeSessionTable(w, d.RecentSessions)
}

func RenderSessions(w io.Writer, f Format, sessions []chat.SessionRecord) error {
	if done, err := Encode(w, f, sessions); done {
		return err
	}
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, labelStyle.Render("no sessions"))
		return err
	}
	return writeSessionTable(w, sessions)
}

func writeSessionTable(w io.Writer, sessions []chat.SessionRecord) error {
	header := fmt.Sprintf("%-10s %-9s %-20s %-5s %-5s %-5s %s", "SESSION", "STATUS", "STARTED", "NAME", "EMAIL", "INC", "MSGS")
	if _, err := fmt.Fprintln(w, labelStyle.Render(header)); err != nil {
		return err
	}
	for _, r := range sessions {
		c := r.Data.Collected()
		started := ""
		if !r.Timestamp.IsZero() {
			started = r.Timestamp.Local().Format("2006-01-02 15:04:05")
		}
		msgs := r.MessageCount
		if msgs == 0 {
			msgs = len(r.ConversationHistory)
		}
		id := chat.Session{ID: r.SessionID}.ShortID()
		line := fmt.Sprintf("%-10s %-9s %-20s %-5s %-5s %-5s %d",
			id, r.Status, started, check(c.Name), check(c.Email), check(c.Income), msgs)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderSession prints one session with its conversation history.
func RenderSession(w io.Writer, f Format, r chat.SessionRecord) error {
	if done, err := Encode(w, f, r); done {
		return err
	}
	deref := func(p *string) string {
		if p == nil || *p == "" {
			return labelStyle.Render("-")
		}
		return *p
	}
	lines := []string{
		titleStyle.Render("Session " + r.SessionID),
		row("Status", string(r.Status)),
		row("Started", r.Timestamp.Local().Format("2006-01-02 15:04:05")),
		row("Name", deref(r.Data.Name)),
		row("Email", deref(r.Data.Email)),
		row("Income", deref(r.Data.Income)),
	}
	if r.CompletedAt != nil && !r.CompletedAt.IsZero() {
		lines = append(lines, row("Completed", r.CompletedAt.Local().Format("2006-01-02 15:04:05")))
	}
	if _, err := fmt.Fprintln(w, strings.Join(lines, "\n")); err != nil {
		return err
	}
	for _, h := range r.ConversationHistory {
		if _, err := fmt.Fprintf(w, "\n%s\n%s\n", titleStyle.Render(string(h.Role)+":"), h.Content); err != nil {
			return err
		}
	}
	return nil
}

func RenderSettings(w io.Writer, f Format, s Settings) error {
	if done, err := Encode(w, f, s); done {
		return err
	}
	email := s.RecipientEmail
	if email == "" {
		email = labelStyle.Render("(not set)")
	}
	_, err := fmt.Fprintln(w, strings.Join([]string{
		titleStyle.Render("Email settings"),
		row("Recipient", email),
		row("Notifications", check(s.EmailNotificationsEnabled)),
		row("Auto send", check(s.AutoSendOnComplete)),
		row("Configured", check(s.IsConfigured)),
	}, "\n"))
	return err
}

func RenderHealth(w io.Writer, f Format, h Health) error {
	if done, err := Encode(w, f, h); done {
		return err
	}
	overall := okStyle.Render(h.Status)
	if !h.OK() {
		overall = badStyle.Render(h.Status)
	}
	_, err := fmt.Fprintln(w, strings.Join([]string{
		row("Status", overall),
		row("RAG", status(h.RAGReady)),
		row("Storage", status(h.StorageReady)),
		row("Email", status(h.EmailReady)),
	}, "\n"))
	return err
}
