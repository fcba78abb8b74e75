package conversation

import (
	"log/slog"
	"sync"
	"time"
)

// Data holds the answers collected so far, keyed by field name.
type Data map[string]any

func (d Data) clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String returns the string stored under field, or "".
func (d Data) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Int returns the int stored under field, or 0.
func (d Data) Int(field string) int {
	n, _ := d[field].(int)
	return n
}

// Float returns the float64 stored under field, or 0.
func (d Data) Float(field string) float64 {
	f, _ := d[field].(float64)
	return f
}

// Bool returns the bool stored under field, or false.
func (d Data) Bool(field string) bool {
	b, _ := d[field].(bool)
	return b
}

// Reference returns the deferred selection stored under field.
func (d Data) Reference(field string) (Reference, bool) {
	r, found := d[field].(Reference)
	return r, found
}

// FlowState is one user's progress through a flow.
type FlowState struct {
	UserID    string
	Kind      Kind
	Step      int
	Data      Data
	Complete  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *FlowState) clone() *FlowState {
	c := *s
	c.Data = s.Data.clone()
	return &c
}

// keyLock is a per-user mutex, reference counted so idle users cost nothing.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// StateStore keeps flow progress in process memory. Progress is lost on
// restart. Callers serialize work for a user with Lock; different users
// never contend beyond the brief map access.
type StateStore struct {
	mu     sync.Mutex
	states map[string]*FlowState
	locks  map[string]*keyLock
}

func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]*FlowState),
		locks:  make(map[string]*keyLock),
	}
}

// Lock blocks until the caller owns userID and returns the release func.
func (s *StateStore) Lock(userID string) (unlock func()) {
	s.mu.Lock()
	l, found := s.locks[userID]
	if !found {
		l = &keyLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}

// Get returns a copy of the user's state, or nil.
func (s *StateStore) Get(userID string) *FlowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, found := s.states[userID]
	if !found {
		return nil
	}
	return st.clone()
}

// Put replaces the user's state with a copy of st.
func (s *StateStore) Put(st *FlowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UpdatedAt = time.Now()
	s.states[st.UserID] = st.clone()
}

// Delete removes the user's state and reports whether one existed.
func (s *StateStore) Delete(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.states[userID]
	delete(s.states, userID)
	if found {
		slog.Debug("StateStore Delete", "userID", userID)
	}
	return found
}

// Len reports how many users have a flow in progress.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
