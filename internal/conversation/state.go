// ABOUTME: Per-user conversation state and the store that holds it
// ABOUTME: One entry per user, either awaiting a name or inside the relay flow

package conversation

import (
	"sync"
)

// Kind discriminates the State variants.
type Kind int

const (
	// KindAwaitingName means the user was asked for a registration name.
	KindAwaitingName Kind = iota + 1
	// KindForwarding means the user is relaying a message to another user.
	KindForwarding
)

func (k Kind) String() string {
	switch k {
	case KindAwaitingName:
		return "awaiting_name"
	case KindForwarding:
		return "forwarding"
	default:
		return "unknown"
	}
}

// Stage is the step of the relay flow.
type Stage int

const (
	StageAwaitingRecipient Stage = iota + 1
	StageAwaitingMessage
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingRecipient:
		return "awaiting_recipient"
	case StageAwaitingMessage:
		return "awaiting_message"
	default:
		return "unknown"
	}
}

// Candidate is a user offered as a relay recipient.
type Candidate struct {
	UserID string
	Name   string
}

// Forwarding is the relay flow progress. Candidates is the snapshot taken
// when the flow started; numeric choices index into it.
type Forwarding struct {
	Stage         Stage
	RecipientID   string
	RecipientName string
	Candidates    []Candidate
}

// State is the conversation state of one user. Forwarding is set only when
// Kind is KindForwarding.
type State struct {
	Kind       Kind
	Forwarding *Forwarding
}

// AwaitingName returns the registration state.
func AwaitingName() State {
	return State{Kind: KindAwaitingName}
}

// AwaitingRecipient returns the first relay state for the given candidates.
func AwaitingRecipient(candidates []Candidate) State {
	return State{
		Kind:       KindForwarding,
		Forwarding: &Forwarding{Stage: StageAwaitingRecipient, Candidates: candidates},
	}
}

func (s State) clone() State {
	if s.Forwarding == nil {
		return s
	}
	f := *s.Forwarding
	f.Candidates = append([]Candidate(nil), s.Forwarding.Candidates...)
	s.Forwarding = &f
	return s
}

// StateStore holds conversation state by user ID. Setting a state replaces
// whatever the user had before.
type StateStore interface {
	Get(userID string) (State, bool)
	Set(userID string, s State)
	Clear(userID string)
}

// MemoryStateStore keeps state in process memory. It is lost on restart and
// entries never expire.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStateStore creates an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

// Get returns a copy of the user's state.
func (m *MemoryStateStore) Get(userID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[userID]
	if !ok {
		return State{}, false
	}
	return s.clone(), true
}

// Set replaces the user's state.
func (m *MemoryStateStore) Set(userID string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userID] = s.clone()
}

// Clear removes the user's state. Clearing a user without state is a no-op.
func (m *MemoryStateStore) Clear(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
}

// Len returns the number of users with an active flow.
func (m *MemoryStateStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// userLocks serializes event handling per user. Entries are dropped when no
// goroutine holds or waits for them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock blocks until userID is free and returns the matching unlock.
func (u *userLocks) lock(userID string) func() {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &userLock{}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, userID)
		}
		u.mu.Unlock()
	}
}
