package stream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
)

type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	StateIdle:       {StateRequesting, StateCancelled},
	StateRequesting: {StateStreaming, StateFailed, StateCancelled},
	StateStreaming:  {StateCompleted, StateFailed, StateCancelled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Response is an opened byte stream. ContentType selects the text decoder.
type Response struct {
	Body        io.ReadCloser
	ContentType string
}

// OpenFunc dispatches the request and returns once response headers are in.
// A non-success status must be returned as an error, before any body is read.
type OpenFunc func(ctx context.Context) (*Response, error)

type SessionOption func(*Session)

// WithRequestTimeout bounds the requesting state. Zero disables it.
func WithRequestTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.requestTimeout = d
	}
}

func WithBufferSize(n int) SessionOption {
	return func(s *Session) {
		s.bufferSize = n
	}
}

// Session streams one completion into one assistant turn of a store.
type Session struct {
	ID     string
	TurnID string

	store          *chat.Store
	open           OpenFunc
	requestTimeout time.Duration
	bufferSize     int

	mu     sync.Mutex
	state  State
	err    error
	stats  Stats
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

func NewSession(store *chat.Store, turnID string, open OpenFunc, opts ...SessionOption) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		TurnID:     turnID,
		store:      store,
		open:       open,
		bufferSize: DefaultBufferSize,
		state:      StateIdle,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the failure reason of a failed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Done is closed once the session reached a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is done or ctx expires.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the session in its own goroutine.
func (s *Session) Start(ctx context.Context) {
	go func() {
		_ = s.Run(ctx)
	}()
}

// Run drives the session to a terminal state. It returns the failure reason
// for failed sessions and nil for completed or cancelled ones.
func (s *Session) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state.IsTerminal() {
		err := s.err
		s.mu.Unlock()
		return err
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return errors.Errorf("session %s already running", s.ID)
	}
	s.cancel = cancel
	s.transitionLocked(StateRequesting)
	s.mu.Unlock()
	defer s.closeDone()

	resp, err := s.openWithTimeout(runCtx, cancel)
	if err != nil {
		return s.failOrCancel(ctx, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("component", "stream").Str("session_id", s.ID).Msg("closing body failed")
		}
	}()

	if !s.transition(StateStreaming) {
		return s.Err()
	}

	dec := DecoderForContentType(resp.ContentType)
	stats, err := Consume(runCtx, resp.Body, dec, s.deliver, s.bufferSize)
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
	if err != nil {
		return s.failOrCancel(ctx, err)
	}

	if !s.transition(StateCompleted) {
		return s.Err()
	}
	if err := s.store.SetStatus(s.TurnID, chat.TurnCompleted, ""); err != nil {
		log.Warn().Err(err).Str("component", "stream").Str("session_id", s.ID).Str("turn_id", s.TurnID).Msg("could not mark turn completed")
	}
	log.Debug().Str("component", "stream").Str("session_id", s.ID).
		Int("chunks", stats.Chunks).Int("bytes", stats.Bytes).Int("deltas", stats.Deltas).
		Msg("stream completed")
	return nil
}

// Cancel stops the session. Content delivered so far stays on the turn, which
// is frozen as cancelled. Cancelling a finished session does nothing.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	wasIdle := s.state == StateIdle
	s.transitionLocked(StateCancelled)
	cancel := s.cancel
	s.mu.Unlock()

	// freeze the turn first so a delivery racing with us is rejected
	if err := s.store.SetStatus(s.TurnID, chat.TurnCancelled, ""); err != nil {
		log.Debug().Err(err).Str("component", "stream").Str("session_id", s.ID).Msg("could not mark turn cancelled")
	}
	if cancel != nil {
		cancel()
	}
	if wasIdle {
		s.closeDone()
	}
}

func (s *Session) deliver(delta string) error {
	return s.store.AppendDelta(s.TurnID, delta)
}

func (s *Session) openWithTimeout(ctx context.Context, cancel context.CancelFunc) (*Response, error) {
	var timedOut atomic.Bool
	if s.requestTimeout > 0 {
		timer := time.AfterFunc(s.requestTimeout, func() {
			timedOut.Store(true)
			cancel()
		})
		defer timer.Stop()
	}

	resp, err := s.open(ctx)
	if timedOut.Load() {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, errors.Wrapf(chat.ErrRequestTimeout, "no response after %s", s.requestTimeout)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Body == nil {
		return nil, chat.ErrNoResponseBody
	}
	return resp, nil
}

// failOrCancel treats the end of the caller's context as a cancellation.
func (s *Session) failOrCancel(parent context.Context, err error) error {
	if parent.Err() != nil {
		s.Cancel()
		return s.Err()
	}
	return s.fail(err)
}

// fail records err unless the session already ended (for instance through
// Cancel), then writes the error as the assistant reply.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	if s.state.IsTerminal() {
		ret := s.err
		s.mu.Unlock()
		return ret
	}
	s.err = err
	s.transitionLocked(StateFailed)
	s.mu.Unlock()

	log.Warn().Err(err).Str("component", "stream").Str("session_id", s.ID).Str("turn_id", s.TurnID).Msg("stream failed")
	if aerr := s.store.AppendDelta(s.TurnID, chat.ErrorText(err)); aerr != nil {
		log.Warn().Err(aerr).Str("component", "stream").Str("session_id", s.ID).Msg("could not append error reply")
	}
	if serr := s.store.SetStatus(s.TurnID, chat.TurnFailed, err.Error()); serr != nil {
		log.Warn().Err(serr).Str("component", "stream").Str("session_id", s.ID).Msg("could not mark turn failed")
	}
	return err
}

func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to State) bool {
	if !canTransition(s.state, to) {
		if !s.state.IsTerminal() {
			log.Warn().Str("component", "stream").Str("session_id", s.ID).
				Str("from", string(s.state)).Str("to", string(to)).Msg("ignoring illegal transition")
		}
		return false
	}
	log.Debug().Str("component", "stream").Str("session_id", s.ID).
		Str("from", string(s.state)).Str("to", string(to)).Msg("session transition")
	s.state = to
	return true
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
