package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/go-go-golems/wizard-chat/pkg/conversation"
	"github.com/go-go-golems/wizard-chat/pkg/tokens"
)

const sidebarWidth = 30

func field(done bool, label string) string {
	if done {
		return checkStyle.Render("✓ ") + label
	}
	return mutedStyle.Render("○ " + label)
}

// renderSidebar shows collection progress, session info and token usage.
func renderSidebar(snap conversation.Snapshot, stats tokens.Stats, width int) string {
	d := snap.DataCollected
	lines := []string{
		subHeaderStyle.Render(fmt.Sprintf("Progress %d/%d", d.Count(), chat.DataFieldCount)),
		field(d.Name, "Name"),
		field(d.Email, "Email"),
		field(d.Income, "Income"),
	}
	if snap.Complete {
		lines = append(lines, "", lipgloss.NewStyle().Width(width-4).Render(bannerStyle.Render(conversation.CompleteBanner)))
	}

	s := snap.Session
	started := "-"
	if !s.CreatedAt.IsZero() {
		started = s.CreatedAt.Local().Format("15:04:05")
	}
	lines = append(lines,
		"",
		subHeaderStyle.Render("Session"),
		mutedStyle.Render("id      ")+s.ShortID(),
		mutedStyle.Render("status  ")+string(s.Status),
		mutedStyle.Render("started ")+started,
		"",
		subHeaderStyle.Render("Tokens"),
		mutedStyle.Render("you     ")+fmt.Sprint(stats.UserTokens),
		mutedStyle.Render("wizard  ")+fmt.Sprint(stats.AssistantTokens),
	)
	return sidebarStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}
