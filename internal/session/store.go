package session

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotFound is returned when no session exists for a user.
var ErrNotFound = errors.New("session not found")

// Store persists sessions keyed by Session.Key.
type Store interface {
	Get(ctx context.Context, key string) (Session, error)
	Put(ctx context.Context, s Session) error
	List(ctx context.Context) ([]Session, error)
	Close() error
}

// NewStore opens a badger-backed store when dir is set, otherwise an
// in-memory one.
func NewStore(dir string, opts ...BadgerOption) (Store, error) {
	if strings.TrimSpace(dir) == "" {
		return NewMemoryStore(), nil
	}
	return NewBadgerStore(dir, opts...)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Key()] = s.clone()
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.clone())
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
