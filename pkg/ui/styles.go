package ui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	wizardStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	checkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("118"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	bannerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("16")).Background(lipgloss.Color("118")).Padding(0, 1)
	sidebarStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)

	noticeStyles = map[string]lipgloss.Style{
		"info":    lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Background(lipgloss.Color("63")).Padding(0, 1),
		"success": lipgloss.NewStyle().Foreground(lipgloss.Color("16")).Background(lipgloss.Color("118")).Padding(0, 1),
		"error":   lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Background(lipgloss.Color("160")).Padding(0, 1),
	}
)
