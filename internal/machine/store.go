package machine

import (
	"slices"
	"sync"
)

// Listener observes a transition. It runs outside the store lock and may
// dispatch; such dispatches are queued behind the current one.
type Listener func(prev, next State, a Action)

type subscription struct {
	id int
	fn Listener
}

// Store is the single state container. Reduce is only ever invoked through
// Dispatch, which applies actions in arrival order.
type Store struct {
	mu        sync.Mutex
	state     State
	seq       uint64
	subs      []subscription
	nextSubID int
	pending   []Action
	draining  bool
}

// NewStore creates a store holding initial.
func NewStore(initial State) *Store {
	return &Store{state: initial}
}

// State returns the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Seq returns the number of transitions applied so far.
func (s *Store) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Snapshot returns the current state and its sequence number atomically.
func (s *Store) Snapshot() (State, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.seq
}

// Subscribe registers fn for every future transition and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool { return sub.id == id })
	}
}

// Dispatch applies a. If another dispatch is in progress, on this or any
// goroutine, a is queued and applied by that call in FIFO order. Listeners
// are called once per state change, never for no-op actions.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	s.pending = append(s.pending, a)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]

		prev := s.state
		cur := Reduce(prev, next)
		if cur == prev {
			continue
		}
		s.state = cur
		s.seq++
		subs := slices.Clone(s.subs)

		s.mu.Unlock()
		s.notify(subs, prev, cur, next)
		s.mu.Lock()
	}

	s.draining = false
	s.mu.Unlock()
}

// notify runs the listeners outside the lock. If one panics, the store is
// released for the next Dispatch, which applies anything still queued, and
// the panic continues up the caller's stack.
func (s *Store) notify(subs []subscription, prev, next State, a Action) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.draining = false
			s.mu.Unlock()
			panic(r)
		}
	}()
	for _, sub := range subs {
		sub.fn(prev, next, a)
	}
}
