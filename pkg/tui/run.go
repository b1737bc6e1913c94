package tui

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/conversation"
	"github.com/go-go-golems/chatstream/pkg/health"
)

// Run starts the terminal UI and blocks until the user quits or ctx ends.
// With a poller, health is checked at start and on ctrl+r.
func Run(ctx context.Context, conv *conversation.Conversation, poller *health.Poller, opts ...Option) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes := make(chan struct{}, 1)
	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}
	defer conv.Store().Subscribe(func(chat.Event) { notify() })()

	if poller != nil {
		defer poller.Subscribe(func(health.Indicator) { notify() })()
		opts = append(opts, WithPoller(poller))
		go func() { _ = poller.Run(runCtx) }()
	}

	programOpts := []tea.ProgramOption{tea.WithContext(runCtx)}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		programOpts = append(programOpts, tea.WithAltScreen())
	} else {
		programOpts = append(programOpts, tea.WithOutput(os.Stderr))
	}
	p := tea.NewProgram(NewModel(runCtx, conv, changes, opts...), programOpts...)
	_, err := p.Run()
	conv.Cancel()
	if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return errors.Wrap(err, "run terminal UI")
	}
	return nil
}
