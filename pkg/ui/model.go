package ui

import (
	"context"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/go-go-golems/wizard-chat/pkg/chatapp"
	"github.com/go-go-golems/wizard-chat/pkg/client"
	"github.com/go-go-golems/wizard-chat/pkg/conversation"
	"github.com/go-go-golems/wizard-chat/pkg/session"
	"github.com/go-go-golems/wizard-chat/pkg/tokens"
	"github.com/go-go-golems/wizard-chat/pkg/turn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const helpText = "enter send • ctrl+n new session • ctrl+y copy reply • esc dismiss • pgup/pgdn scroll • ctrl+c quit"

// NoticeSource delivers server-pushed notices for a session.
type NoticeSource interface {
	Notifications(ctx context.Context, sessionID string) (<-chan client.Notice, error)
}

type sessionStartedMsg struct {
	session chat.Session
	err     error
	replace bool
}

type updateMsg struct {
	update turn.Update
}

type turnDoneMsg struct {
	err error
}

type noticesOpenedMsg struct {
	sessionID string
	ch        <-chan client.Notice
}

type serverNoticeMsg struct {
	sessionID string
	notice    client.Notice
	ch        <-chan client.Notice
}

type noticeExpiredMsg struct{}

type copiedMsg struct {
	err error
}

// Model is the full-screen chat: transcript viewport, composer, progress
// sidebar and a transient notice line.
type Model struct {
	ctx      context.Context
	app      *chatapp.App
	notices  NoticeSource
	counter  *tokens.Counter
	markdown bool
	clip     func(string) error
	resume   string
	logger   zerolog.Logger

	events chan tea.Msg

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	renderer    *glamour.TermRenderer
	rendered    map[int64]string
	renderWidth int

	width, height int
	showSidebar   bool

	snap     conversation.Snapshot
	hasView  bool
	starting bool
	startErr error
	stats    tokens.Stats

	stopNotices context.CancelFunc
}

type Option func(*Model)

func WithMarkdown(enabled bool) Option {
	return func(m *Model) { m.markdown = enabled }
}

func WithNotices(src NoticeSource) Option {
	return func(m *Model) { m.notices = src }
}

func WithTokenCounter(c *tokens.Counter) Option {
	return func(m *Model) { m.counter = c }
}

func WithClipboard(clip func(string) error) Option {
	return func(m *Model) { m.clip = clip }
}

// WithResume continues an existing backend session instead of creating one.
func WithResume(sessionID string) Option {
	return func(m *Model) { m.resume = sessionID }
}

func NewModel(ctx context.Context, app *chatapp.App, opts ...Option) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	ti := textinput.New()
	ti.Placeholder = conversation.DefaultHint
	ti.Prompt = "> "
	ti.CharLimit = 2000

	vp := viewport.New(80, 20)

	m := Model{
		ctx:         ctx,
		app:         app,
		clip:        clipboard.WriteAll,
		logger:      log.Logger.With().Str("component", "ui").Logger(),
		events:      make(chan tea.Msg, 256),
		viewport:    vp,
		input:       ti,
		spinner:     sp,
		rendered:    map[int64]string{},
		width:       80,
		height:      24,
		showSidebar: true,
		starting:    true,
	}
	for _, o := range opts {
		o(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, m.startSession(false), m.waitForEvent())
}

func (m Model) startSession(replace bool) tea.Cmd {
	ctx, app, resume := m.ctx, m.app, m.resume
	return func() tea.Msg {
		var (
			s   chat.Session
			err error
		)
		switch {
		case replace:
			s, err = app.NewSession(ctx)
		case resume != "":
			s, err = app.Resume(ctx, resume)
		default:
			s, err = app.Start(ctx)
		}
		return sessionStartedMsg{session: s, err: err, replace: replace}
	}
}

func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		return <-events
	}
}

func (m Model) submit(text string) tea.Cmd {
	ctx, app, events := m.ctx, m.app, m.events
	return func() tea.Msg {
		_, err := app.Submit(ctx, text, func(u turn.Update) {
			events <- updateMsg{update: u}
		})
		return turnDoneMsg{err: err}
	}
}

func (m *Model) listen(sessionID string) tea.Cmd {
	if m.stopNotices != nil {
		m.stopNotices()
		m.stopNotices = nil
	}
	if m.notices == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.stopNotices = cancel
	src, logger := m.notices, m.logger
	return func() tea.Msg {
		ch, err := src.Notifications(ctx, sessionID)
		if err != nil {
			logger.Warn().Err(err).Str("session_id", sessionID).Msg("notifications unavailable")
			return nil
		}
		return noticesOpenedMsg{sessionID: sessionID, ch: ch}
	}
}

func waitForNotice(sessionID string, ch <-chan client.Notice) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return serverNoticeMsg{sessionID: sessionID, notice: n, ch: ch}
	}
}

// expireNotice schedules the removal of the current notice.
func (m Model) expireNotice() tea.Cmd {
	if m.snap.Notice == nil {
		return nil
	}
	d := time.Until(m.snap.Notice.Expires)
	if d < 0 {
		d = 0
	}
	return tea.Tick(d, func(time.Time) tea.Msg { return noticeExpiredMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.redraw()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case sessionStartedMsg:
		m.starting = false
		if msg.err != nil {
			if errors.Is(msg.err, session.ErrCreationInProgress) {
				return m, nil
			}
			if v := m.app.View(); v != nil {
				v.Notify(conversation.NoticeError, "Error: could not start a new session: "+msg.err.Error())
				m.refresh()
				return m, m.expireNotice()
			}
			m.startErr = msg.err
			return m, nil
		}
		m.startErr = nil
		m.rendered = map[int64]string{}
		m.stats = tokens.Stats{}
		m.refresh()
		m.updateStats()
		return m, tea.Batch(m.listen(msg.session.ID), m.expireNotice())

	case updateMsg:
		m.refresh()
		return m, m.waitForEvent()

	case turnDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, turn.ErrStaleSession) {
			m.logger.Debug().Err(msg.err).Msg("turn ended with error")
		}
		m.refresh()
		m.updateStats()
		return m, m.expireNotice()

	case noticesOpenedMsg:
		if msg.sessionID != m.snap.Session.ID {
			return m, nil
		}
		return m, waitForNotice(msg.sessionID, msg.ch)

	case serverNoticeMsg:
		if msg.sessionID != m.snap.Session.ID {
			return m, nil
		}
		m.applyServerNotice(msg.notice)
		m.refresh()
		return m, tea.Batch(waitForNotice(msg.sessionID, msg.ch), m.expireNotice())

	case noticeExpiredMsg:
		if v := m.app.View(); v != nil {
			v.ExpireNotice()
		}
		m.refresh()
		return m, m.expireNotice()

	case copiedMsg:
		if v := m.app.View(); v != nil {
			if msg.err != nil {
				v.Notify(conversation.NoticeError, "Error: could not copy: "+msg.err.Error())
			} else {
				v.Notify(conversation.NoticeInfo, "Copied last reply to clipboard")
			}
		}
		m.refresh()
		return m, m.expireNotice()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.stopNotices != nil {
			m.stopNotices()
		}
		return m, tea.Quit
	}

	if !m.hasView {
		switch msg.String() {
		case "r":
			if m.startErr != nil && !m.starting {
				m.starting = true
				m.startErr = nil
				return m, m.startSession(false)
			}
		case "q", "esc":
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "esc":
		if v := m.app.View(); v != nil {
			v.DismissNotice()
		}
		m.refresh()
		return m, nil

	case "ctrl+n":
		if m.starting {
			return m, nil
		}
		m.starting = true
		return m, m.startSession(true)

	case "ctrl+y":
		text := lastAssistant(m.snap.Messages)
		if text == "" {
			return m, nil
		}
		clip := m.clip
		return m, func() tea.Msg { return copiedMsg{err: clip(text)} }

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || !m.snap.ComposerEnabled() || m.starting {
			return m, nil
		}
		m.input.Reset()
		m.input.Blur()
		return m, m.submit(text)
	}

	if !m.snap.ComposerEnabled() {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) applyServerNotice(n client.Notice) {
	v := m.app.View()
	if v == nil {
		return
	}
	switch n.Type {
	case client.NoticeEmailSent:
		text := n.Message
		if text == "" {
			text = "Email sent"
		}
		v.Notify(conversation.NoticeSuccess, text)
	case client.NoticeGreeting:
		v.SetGreeting(n.Message)
	default:
		if n.DataCollected != nil {
			complete := n.IsComplete != nil && *n.IsComplete
			v.SetDataCollected(*n.DataCollected, complete)
		}
	}
}

// refresh pulls a fresh snapshot from the current view and applies its
// one-shot scroll and focus requests.
func (m *Model) refresh() {
	v := m.app.View()
	if v == nil {
		m.hasView = false
		return
	}
	m.hasView = true
	m.snap = v.Consume()
	m.redraw()
	if m.snap.ScrollToBottom {
		m.viewport.GotoBottom()
	}
	if m.snap.Phase.Busy() {
		m.input.Blur()
	} else if m.snap.FocusComposer || !m.input.Focused() {
		m.input.Focus()
	}
}

func (m *Model) updateStats() {
	if m.counter == nil {
		return
	}
	st, err := m.counter.Conversation(m.snap.Messages)
	if err != nil {
		m.logger.Debug().Err(err).Msg("token count failed")
		return
	}
	m.stats = st
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.showSidebar = width >= 70
	chatWidth := width
	if m.showSidebar {
		chatWidth = width - sidebarWidth - 1
	}
	// header, composer, notice and help lines
	vpHeight := height - 5
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = chatWidth
	m.viewport.Height = vpHeight
	m.input.Width = chatWidth - 4

	if chatWidth != m.renderWidth {
		m.renderWidth = chatWidth
		m.rendered = map[int64]string{}
		m.renderer = nil
		if m.markdown {
			r, err := glamour.NewTermRenderer(
				glamour.WithStandardStyle("dark"),
				glamour.WithWordWrap(chatWidth-2),
			)
			if err != nil {
				m.logger.Warn().Err(err).Msg("markdown renderer unavailable")
			} else {
				m.renderer = r
			}
		}
	}
}

func (m *Model) redraw() {
	m.viewport.SetContent(m.renderConversation())
}

func (m *Model) renderAssistant(msg chat.Message) string {
	if m.renderer == nil {
		return lipgloss.NewStyle().Width(m.viewport.Width).Render(msg.Content)
	}
	if out, ok := m.rendered[msg.ID]; ok {
		return out
	}
	out, err := m.renderer.Render(msg.Content)
	if err != nil {
		out = msg.Content
	}
	out = strings.TrimRight(out, "\n")
	m.rendered[msg.ID] = out
	return out
}

func (m *Model) renderConversation() string {
	if !m.hasView {
		return ""
	}
	snap := m.snap
	if snap.Empty() {
		return lipgloss.Place(m.viewport.Width, m.viewport.Height, lipgloss.Center, lipgloss.Center,
			headerStyle.Render(snap.Greeting)+"\n"+mutedStyle.Render(conversation.DefaultHint))
	}

	wrap := lipgloss.NewStyle().Width(m.viewport.Width)
	var b strings.Builder
	for _, msg := range snap.Messages {
		switch msg.Role {
		case chat.RoleUser:
			b.WriteString(userStyle.Render("You") + mutedStyle.Render(" "+msg.Timestamp.Local().Format("15:04")) + "\n")
			b.WriteString(wrap.Render(msg.Content))
		default:
			b.WriteString(wizardStyle.Render("Wizard") + mutedStyle.Render(" "+msg.Timestamp.Local().Format("15:04")) + "\n")
			b.WriteString(m.renderAssistant(msg))
		}
		b.WriteString("\n\n")
	}
	switch {
	case snap.Partial != "":
		b.WriteString(wizardStyle.Render("Wizard") + "\n")
		b.WriteString(wrap.Render(snap.Partial + "▌"))
	case snap.Phase == turn.PhaseSending:
		b.WriteString(wizardStyle.Render("Wizard") + "\n" + mutedStyle.Render("…"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastAssistant(msgs []chat.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant {
			return msgs[i].Content
		}
	}
	return ""
}

func (m Model) status() string {
	switch {
	case m.starting:
		return "starting session " + m.spinner.View()
	case m.snap.Phase == turn.PhaseSending:
		return "sending " + m.spinner.View()
	case m.snap.Phase == turn.PhaseStreaming:
		return "streaming " + m.spinner.View()
	}
	return ""
}

func (m Model) View() string {
	if !m.hasView {
		if m.startErr != nil {
			return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
				errorStyle.Render("Could not start a session")+"\n"+
					mutedStyle.Render(m.startErr.Error())+"\n\n"+
					"press r to retry, q to quit")
		}
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			"Connecting to the market wizard "+m.spinner.View())
	}

	header := headerStyle.Render("Market Wizard")
	if st := m.status(); st != "" {
		header += "  " + mutedStyle.Render(st)
	}

	notice := ""
	if n := m.snap.Notice; n != nil {
		style, ok := noticeStyles[string(n.Level)]
		if !ok {
			style = noticeStyles["info"]
		}
		notice = style.Render(n.Text) + mutedStyle.Render("  esc to dismiss")
	}

	left := lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		notice,
		m.input.View(),
		mutedStyle.Render(helpText),
	)
	if !m.showSidebar {
		return left
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", renderSidebar(m.snap, m.stats, sidebarWidth))
}
