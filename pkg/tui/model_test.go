package tui

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/conversation"
	"github.com/go-go-golems/chatstream/pkg/health"
	"github.com/go-go-golems/chatstream/pkg/stream"
)

func newTestConversation(t *testing.T, h http.HandlerFunc, s chat.Settings) (*conversation.Conversation, *backend.Client) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := backend.DefaultConfig()
	cfg.BaseURL = srv.URL
	client := backend.NewClient(cfg)
	return conversation.New(chat.NewStore(), client, conversation.WithSettings(s)), client
}

func keyedSettings() chat.Settings {
	s := chat.DefaultSettings()
	s.APIKey = "sk-test"
	return s
}

func replyWith(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		}
		_, _ = io.WriteString(w, text)
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func waitSession(t *testing.T, s *stream.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session")
	}
}

func TestModel_EnterWithoutKeyShowsError(t *testing.T) {
	conv, _ := newTestConversation(t, replyWith("never"), chat.DefaultSettings())
	m := NewModel(context.Background(), conv, nil)
	m.input.SetValue("hi")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, "Error: Please enter your OpenAI API key in the settings.", m.notice)
	require.Equal(t, 0, conv.Store().Len())
	require.Equal(t, "hi", m.input.Value())
}

func TestModel_SendRendersReplyAndCountsTokens(t *testing.T) {
	conv, _ := newTestConversation(t, replyWith("Hello **world**"), keyedSettings())
	m := NewModel(context.Background(), conv, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m.input.SetValue("hi")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Empty(t, m.notice)
	require.Empty(t, m.input.Value())
	sess := conv.Active()
	require.NotNil(t, sess)
	waitSession(t, sess)

	m, cmd := update(t, m, changedMsg{})
	require.Nil(t, cmd)
	require.Len(t, m.turns, 2)
	require.Equal(t, "Hello **world**", m.turns[1].Content)
	require.Equal(t, chat.TurnCompleted, m.turns[1].Status)
	require.Positive(t, m.tokens)
	require.Contains(t, m.rendered, m.turns[1].ID)

	// counted once even when the store signals again
	before := m.tokens
	m, _ = update(t, m, changedMsg{})
	require.Equal(t, before, m.tokens)
	require.Equal(t, "completed", m.sessionState())
	require.NotEmpty(t, m.View())
}

func TestModel_CopyLastReply(t *testing.T) {
	conv, _ := newTestConversation(t, replyWith("copy me"), keyedSettings())
	var copied string
	m := NewModel(context.Background(), conv, nil, WithClipboard(func(s string) error {
		copied = s
		return nil
	}))

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlY})
	require.Equal(t, "nothing to copy", m.notice)

	m.input.SetValue("hi")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	waitSession(t, conv.Active())
	m, _ = update(t, m, changedMsg{})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlY})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	require.Equal(t, "copy me", copied)
	require.Equal(t, "copied last reply", m.notice)
}

func TestModel_EscCancelsAndCtrlLClears(t *testing.T) {
	conv, _ := newTestConversation(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "partial")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}, keyedSettings())
	m := NewModel(context.Background(), conv, nil)
	m.input.SetValue("hi")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	sess := conv.Active()
	require.Eventually(t, func() bool {
		turn, _ := conv.Store().Get(sess.TurnID)
		return turn.Content == "partial"
	}, 2*time.Second, 5*time.Millisecond)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	waitSession(t, sess)
	require.Equal(t, stream.StateCancelled, sess.State())

	m, _ = update(t, m, changedMsg{})
	require.Equal(t, chat.TurnCancelled, m.turns[1].Status)
	require.Equal(t, 0, m.tokens)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	require.Empty(t, m.turns)
	require.Equal(t, 0, conv.Store().Len())
}

func TestModel_HealthRefresh(t *testing.T) {
	conv, client := newTestConversation(t, replyWith(""), keyedSettings())
	poller := health.NewPoller(client)
	m := NewModel(context.Background(), conv, nil, WithPoller(poller))
	require.Equal(t, health.StatusUnknown, m.health.Status)

	poller.Check(context.Background())
	m, _ = update(t, m, changedMsg{})
	require.Equal(t, health.StatusConnected, m.health.Status)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	require.Nil(t, cmd)
}

func TestModel_CtrlCQuits(t *testing.T) {
	conv, _ := newTestConversation(t, replyWith(""), keyedSettings())
	m := NewModel(context.Background(), conv, nil)
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	require.Equal(t, tea.Quit(), cmd())
}
