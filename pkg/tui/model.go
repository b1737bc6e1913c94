// Package tui is the terminal chat client.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/conversation"
	"github.com/go-go-golems/chatstream/pkg/health"
	"github.com/go-go-golems/chatstream/pkg/stream"
	"github.com/go-go-golems/chatstream/pkg/tokens"
)

const inputHeight = 3

// changedMsg tells the model that the store or the health indicator moved.
// The model re-reads both, so coalesced signals lose nothing.
type changedMsg struct{}

type copiedMsg struct {
	err error
}

type Option func(*Model)

func WithPoller(p *health.Poller) Option {
	return func(m *Model) {
		m.poller = p
	}
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(fn func(string) error) Option {
	return func(m *Model) {
		m.copy = fn
	}
}

type Model struct {
	ctx     context.Context
	conv    *conversation.Conversation
	poller  *health.Poller
	changes <-chan struct{}
	copy    func(string) error

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	turns    []chat.Turn
	health   health.Indicator
	rendered map[string]string
	counted  map[string]int
	tokens   int
	notice   string

	renderer *glamour.TermRenderer
	width    int
	height   int
}

func NewModel(ctx context.Context, conv *conversation.Conversation, changes <-chan struct{}, opts ...Option) Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message, enter to send"
	ta.ShowLineNumbers = false
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Line

	m := Model{
		ctx:      ctx,
		conv:     conv,
		changes:  changes,
		copy:     clipboard.WriteAll,
		input:    ta,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		rendered: map[string]string{},
		counted:  map[string]int{},
		width:    80,
	}
	for _, o := range opts {
		o(&m)
	}
	if m.poller != nil {
		m.health = m.poller.Current()
	}
	m.renderer = newRenderer(m.width)
	return m
}

func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warn().Err(err).Str("component", "tui").Msg("markdown renderer unavailable")
		return nil
	}
	return r
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, waitForChange(m.changes))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = ev.Width, ev.Height
		m.input.SetWidth(ev.Width)
		m.viewport.Width = ev.Width
		m.viewport.Height = max(1, ev.Height-inputHeight-3)
		m.renderer = newRenderer(ev.Width)
		m.rendered = map[string]string{}
		m.refreshContent()
		return m, nil

	case changedMsg:
		m.sync()
		return m, waitForChange(m.changes)

	case copiedMsg:
		if ev.err != nil {
			m.notice = chat.ErrorText(ev.err)
		} else {
			m.notice = "copied last reply"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(ev)
		if m.streaming() {
			m.refreshContent()
		}
		return m, cmd

	case tea.KeyMsg:
		switch ev.String() {
		case "ctrl+c":
			m.conv.Cancel()
			return m, tea.Quit
		case "enter":
			m.send()
			m.sync()
			return m, nil
		case "esc":
			m.conv.Cancel()
			m.notice = ""
			return m, nil
		case "ctrl+l":
			m.conv.Clear()
			m.rendered = map[string]string{}
			m.counted = map[string]int{}
			m.tokens = 0
			m.notice = ""
			m.sync()
			return m, nil
		case "ctrl+r":
			if m.poller != nil {
				m.poller.Refresh()
			}
			return m, nil
		case "ctrl+y":
			reply, ok := m.lastReply()
			if !ok {
				m.notice = "nothing to copy"
				return m, nil
			}
			copyFn := m.copy
			return m, func() tea.Msg { return copiedMsg{err: copyFn(reply)} }
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(ev)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) send() {
	text := strings.TrimSpace(m.input.Value())
	if _, err := m.conv.SendMessage(m.ctx, text); err != nil {
		m.notice = chat.ErrorText(err)
		return
	}
	m.notice = ""
	m.input.Reset()
}

// sync re-reads the store and the health indicator.
func (m *Model) sync() {
	m.turns, _ = m.conv.Store().Snapshot()
	if m.poller != nil {
		m.health = m.poller.Current()
	}
	model := m.conv.Settings().Model
	for _, t := range m.turns {
		if t.Role != chat.RoleAssistant || t.Status != chat.TurnCompleted {
			continue
		}
		if _, ok := m.counted[t.ID]; ok {
			continue
		}
		n, err := tokens.Count(model, t.Content)
		if err != nil {
			log.Debug().Err(err).Str("component", "tui").Msg("token count failed")
		}
		m.counted[t.ID] = n
		m.tokens += n
	}
	m.refreshContent()
}

func (m *Model) refreshContent() {
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderTurn(t))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderTurn(t chat.Turn) string {
	if t.Role == chat.RoleUser {
		return userStyle.Render("You") + "\n" + t.Content
	}
	label := assistantStyle.Render("Assistant")
	switch t.Status {
	case chat.TurnPending:
		return label + "\n" + m.spinner.View()
	case chat.TurnStreaming:
		return label + "\n" + t.Content + " " + m.spinner.View()
	case chat.TurnFailed:
		return label + "\n" + errorStyle.Render(t.Content)
	case chat.TurnCancelled:
		return label + " " + mutedStyle.Render("(stopped)") + "\n" + t.Content
	default:
		return label + "\n" + m.markdown(t)
	}
}

func (m *Model) markdown(t chat.Turn) string {
	if out, ok := m.rendered[t.ID]; ok {
		return out
	}
	out := t.Content
	if m.renderer != nil {
		if r, err := m.renderer.Render(t.Content); err == nil {
			out = strings.TrimRight(r, "\n")
		}
	}
	m.rendered[t.ID] = out
	return out
}

func (m Model) lastReply() (string, bool) {
	for i := len(m.turns) - 1; i >= 0; i-- {
		t := m.turns[i]
		if t.Role == chat.RoleAssistant && t.Content != "" {
			return t.Content, true
		}
	}
	return "", false
}

func (m Model) streaming() bool {
	sess := m.conv.Active()
	return sess != nil && !sess.State().IsTerminal()
}

func (m Model) sessionState() string {
	sess := m.conv.Active()
	if sess == nil {
		return string(stream.StateIdle)
	}
	return string(sess.State())
}

func (m Model) View() string {
	status := fmt.Sprintf(" %s │ %s │ %s │ %d tokens ",
		healthBadge(m.health), m.conv.Settings().Model, m.sessionState(), m.tokens)
	if m.notice != "" {
		status += "│ " + m.notice + " "
	}
	help := mutedStyle.Render("enter send · esc stop · ctrl+l clear · ctrl+r health · ctrl+y copy · ctrl+c quit")
	return strings.Join([]string{
		headerStyle.Render("chatstream"),
		m.viewport.View(),
		m.input.View(),
		statusStyle.Render(status),
		help,
	}, "\n")
}
