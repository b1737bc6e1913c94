// Package conversation wires the turn store, the completion backend and the
// streaming sessions behind send, cancel and clear.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/stream"
)

// Completer opens completion streams. *backend.Client implements it.
type Completer interface {
	CompletionOpener(req chat.CompletionRequest) stream.OpenFunc
}

type Option func(*Conversation)

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Conversation) {
		c.requestTimeout = d
	}
}

func WithSettings(s chat.Settings) Option {
	return func(c *Conversation) {
		c.settings = s
	}
}

// Conversation owns at most one active session. A new send cancels the
// previous stream before its own turns are appended.
type Conversation struct {
	store          *chat.Store
	completer      Completer
	requestTimeout time.Duration

	mu       sync.Mutex
	settings chat.Settings
	active   *stream.Session
}

func New(store *chat.Store, completer Completer, opts ...Option) *Conversation {
	c := &Conversation{
		store:     store,
		completer: completer,
		settings:  chat.DefaultSettings(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Conversation) Store() *chat.Store {
	return c.store
}

func (c *Conversation) Settings() chat.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Conversation) SetSettings(s chat.Settings) {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	log.Debug().Str("component", "conversation").Str("model", s.Model).Str("api_key", s.MaskedAPIKey()).Msg("settings updated")
}

// SendMessage sends with the current settings.
func (c *Conversation) SendMessage(ctx context.Context, message string) (*stream.Session, error) {
	return c.Send(ctx, c.Settings(), message)
}

// Send validates the input, appends the user turn and an empty assistant
// placeholder, and starts streaming into the placeholder. ctx bounds the
// session; cancelling it cancels the stream. Validation failures leave the
// store untouched.
func (c *Conversation) Send(ctx context.Context, s chat.Settings, message string) (*stream.Session, error) {
	if err := s.Validate(message); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		log.Debug().Str("component", "conversation").Str("session_id", c.active.ID).Msg("replacing active session")
		c.active.Cancel()
		c.active = nil
	}

	user := chat.NewUserTurn(message)
	if err := c.store.AppendTurn(user); err != nil {
		return nil, errors.Wrap(err, "append user turn")
	}
	placeholder := chat.NewAssistantPlaceholder()
	if err := c.store.AppendTurn(placeholder); err != nil {
		return nil, errors.Wrap(err, "append assistant turn")
	}

	sess := stream.NewSession(
		c.store,
		placeholder.ID,
		c.completer.CompletionOpener(s.BuildRequest(message)),
		stream.WithRequestTimeout(c.requestTimeout),
	)
	c.active = sess
	log.Info().Str("component", "conversation").
		Str("session_id", sess.ID).
		Str("turn_id", placeholder.ID).
		Str("model", s.Model).
		Msg("starting completion stream")
	sess.Start(ctx)
	return sess, nil
}

// Active returns the session started by the last send, finished or not.
func (c *Conversation) Active() *stream.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Cancel stops the active stream, if any.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.Cancel()
	}
}

// Clear cancels the active stream and empties the turn log.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.Cancel()
		c.active = nil
	}
	c.store.Clear()
	log.Info().Str("component", "conversation").Msg("conversation cleared")
}
