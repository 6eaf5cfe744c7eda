package datatable

import (
	"sort"
	"sync"
)

// Observer is notified after a committed mutation of a table.
type Observer func(tableID string, st State)

type subscription struct {
	id int
	fn Observer
}

// Store holds the view state of every table of one owner. Mutations run to
// completion under a mutex; observers are called synchronously afterwards,
// outside the lock, in registration order.
type Store struct {
	mu        sync.Mutex
	tables    map[string]State
	observers map[string][]subscription
	nextSub   int
	version   uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tables:    make(map[string]State),
		observers: make(map[string][]subscription),
	}
}

// NewStoreFrom rebuilds a store from a snapshot.
func NewStoreFrom(snapshot map[string]State) *Store {
	s := NewStore()
	for id, st := range snapshot {
		s.tables[id] = st.normalize()
	}
	return s
}

// InitTable stores initial for tableID unless the table already has a state.
// It returns the state in effect afterwards.
func (s *Store) InitTable(tableID string, initial State) State {
	s.mu.Lock()
	if st, ok := s.tables[tableID]; ok {
		s.mu.Unlock()
		return st.Clone()
	}
	st := initial.normalize()
	s.tables[tableID] = st
	s.version++
	observers := s.observersLocked(tableID)
	s.mu.Unlock()

	s.notify(observers, tableID, st)
	return st.Clone()
}

// SetParams merges p into the state of tableID. A table without state is
// initialised with DefaultState first.
func (s *Store) SetParams(tableID string, p Params) State {
	s.mu.Lock()
	st, ok := s.tables[tableID]
	if !ok {
		st = DefaultState()
	}
	st = st.merge(p)
	s.tables[tableID] = st
	s.version++
	observers := s.observersLocked(tableID)
	s.mu.Unlock()

	s.notify(observers, tableID, st)
	return st.Clone()
}

// ResetTable restores tableID to DefaultState, dropping sort, search and filters.
func (s *Store) ResetTable(tableID string) State {
	s.mu.Lock()
	st := DefaultState()
	s.tables[tableID] = st
	s.version++
	observers := s.observersLocked(tableID)
	s.mu.Unlock()

	s.notify(observers, tableID, st)
	return st.Clone()
}

// Get returns the state of tableID.
func (s *Store) Get(tableID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tables[tableID]
	if !ok {
		return State{}, false
	}
	return st.Clone(), true
}

// State returns the state of tableID, or DefaultState when absent.
func (s *Store) State(tableID string) State {
	if st, ok := s.Get(tableID); ok {
		return st
	}
	return DefaultState()
}

// Tables lists the table ids that have a state, sorted.
func (s *Store) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies every table state.
func (s *Store) Snapshot() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.tables))
	for id, st := range s.tables {
		out[id] = st.Clone()
	}
	return out
}

// Version increases with every committed mutation.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Subscribe registers fn for mutations of tableID. The returned function
// removes the registration.
func (s *Store) Subscribe(tableID string, fn Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.observers[tableID] = append(s.observers[tableID], subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.observers[tableID]
		for i, sub := range subs {
			if sub.id == id {
				s.observers[tableID] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(s.observers[tableID]) == 0 {
			delete(s.observers, tableID)
		}
	}
}

func (s *Store) observersLocked(tableID string) []subscription {
	subs := s.observers[tableID]
	if len(subs) == 0 {
		return nil
	}
	out := make([]subscription, len(subs))
	copy(out, subs)
	return out
}

func (s *Store) notify(subs []subscription, tableID string, st State) {
	for _, sub := range subs {
		sub.fn(tableID, st.Clone())
	}
}
