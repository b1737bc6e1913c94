package chat

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventTurnAppended  EventKind = "turn_appended"
	EventDeltaAppended EventKind = "delta_appended"
	EventStatusChanged EventKind = "status_changed"
	EventCleared       EventKind = "cleared"
)

// Event describes one store mutation. Seq is strictly increasing per store and
// subscribers receive events in Seq order.
type Event struct {
	Seq   uint64    `json:"seq"`
	Kind  EventKind `json:"kind"`
	Turn  Turn      `json:"turn"`
	Delta string    `json:"delta,omitempty"`
}

type Subscriber func(Event)

// Store is the ordered turn log. Every mutation is applied under one lock and
// then announced to subscribers; a subscriber may read the store but must not
// mutate it synchronously.
type Store struct {
	mu    sync.RWMutex
	turns []*Turn
	index map[string]int
	seq   uint64

	// writeMu serialises mutate-then-notify so events go out in Seq order.
	// Readers only take mu, which is released before subscribers run.
	writeMu sync.Mutex
	subsMu  sync.Mutex
	subs    map[int]Subscriber
	nextSub int
}

func NewStore() *Store {
	return &Store{
		index: map[string]int{},
		subs:  map[int]Subscriber{},
	}
}

// Subscribe registers fn for every subsequent event. The returned func removes it.
func (s *Store) Subscribe(fn Subscriber) func() {
	if fn == nil {
		return func() {}
	}
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// AppendTurn adds t at the end of the log.
func (s *Store) AppendTurn(t Turn) error {
	if t.ID == "" {
		return errors.New("turn id is empty")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, ok := s.index[t.ID]; ok {
		s.mu.Unlock()
		return errors.Errorf("turn %s already exists", t.ID)
	}
	cp := t
	s.turns = append(s.turns, &cp)
	s.index[t.ID] = len(s.turns) - 1
	ev := s.nextEventLocked(EventTurnAppended, cp, "")
	s.mu.Unlock()
	s.notify(ev)
	return nil
}

// AppendDelta appends text to the content of a non-terminal turn. A pending
// turn moves to streaming with its first delta.
func (s *Store) AppendDelta(id string, delta string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	t, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if t.Status.IsTerminal() {
		s.mu.Unlock()
		return errors.Wrapf(ErrTurnFrozen, "append to %s turn %s", t.Status, id)
	}
	t.Content += delta
	if t.Status == TurnPending {
		t.Status = TurnStreaming
	}
	ev := s.nextEventLocked(EventDeltaAppended, *t, delta)
	s.mu.Unlock()
	s.notify(ev)
	return nil
}

// SetStatus moves a turn to status. Terminal turns are frozen and reject any
// further change. reason is kept for failed turns.
func (s *Store) SetStatus(id string, status TurnStatus, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	t, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if t.Status.IsTerminal() {
		s.mu.Unlock()
		return errors.Wrapf(ErrTurnFrozen, "set status %s on %s turn %s", status, t.Status, id)
	}
	if t.Status == status {
		s.mu.Unlock()
		return nil
	}
	t.Status = status
	if status == TurnFailed {
		t.Error = reason
	}
	ev := s.nextEventLocked(EventStatusChanged, *t, "")
	s.mu.Unlock()
	s.notify(ev)
	return nil
}

// Clear drops every turn.
func (s *Store) Clear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.turns = nil
	s.index = map[string]int{}
	ev := s.nextEventLocked(EventCleared, Turn{}, "")
	s.mu.Unlock()
	s.notify(ev)
}

func (s *Store) Get(id string) (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookupLocked(id)
	if err != nil {
		return Turn{}, false
	}
	return *t, true
}

// Snapshot returns a copy of the log and the seq of the last applied event.
func (s *Store) Snapshot() ([]Turn, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, 0, len(s.turns))
	for _, t := range s.turns {
		out = append(out, *t)
	}
	return out, s.seq
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

func (s *Store) lookupLocked(id string) (*Turn, error) {
	idx, ok := s.index[id]
	if !ok {
		return nil, errors.Wrapf(ErrTurnNotFound, "turn %s", id)
	}
	return s.turns[idx], nil
}

func (s *Store) nextEventLocked(kind EventKind, t Turn, delta string) Event {
	s.seq++
	return Event{Seq: s.seq, Kind: kind, Turn: t, Delta: delta}
}

// notify runs with writeMu held and mu released.
func (s *Store) notify(ev Event) {
	s.subsMu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		s.deliver(fn, ev)
	}
}

func (s *Store) deliver(fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("component", "store").Uint64("seq", ev.Seq).Msg("subscriber panicked")
		}
	}()
	fn(ev)
}
