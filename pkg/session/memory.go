package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. The mutex guards the map
// only; Update keeps the read-merge-write semantics of the durable store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, identity string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[identity]
	if !ok {
		return idle(identity)
	}
	return &s
}

func (m *MemoryStore) Update(ctx context.Context, identity string, state State, partial Slots) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	current := m.Get(ctx, identity)
	merged, err := Merge(current.Data, partial)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[identity] = Session{Identity: identity, State: state, Data: merged, UpdatedAt: m.now().UTC()}
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[identity] = Session{Identity: identity, State: StateIdle, UpdatedAt: m.now().UTC()}
	return nil
}
