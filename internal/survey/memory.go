package survey

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	states map[int64]*State
}

// NewMemoryStore constructs a process-local Store. States are lost on restart.
func NewMemoryStore() Store {
	return &memoryStore{
		states: make(map[int64]*State),
	}
}

// Get returns a copy of the client's state or ErrNoState.
func (m *memoryStore) Get(_ context.Context, clientID int64) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[clientID]
	if !ok {
		return nil, ErrNoState
	}
	return st.Clone(), nil
}

// Set replaces the client's state.
func (m *memoryStore) Set(_ context.Context, st *State) error {
	if st == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[st.ClientID] = st.Clone()
	return nil
}

// Delete removes the client's state; deleting a missing state is not an error.
func (m *memoryStore) Delete(_ context.Context, clientID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, clientID)
	return nil
}
