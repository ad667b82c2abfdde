package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry keeps sessions in process. Records never expire.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return ErrSessionExists
	}
	s := session.Clone()
	now := m.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.LastHeartbeat = now
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryRegistry) Unregister(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryRegistry) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// List returns sessions ordered by creation time.
func (m *MemoryRegistry) List(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRegistry) UpdateStatus(ctx context.Context, sessionID string, status SessionStatus) error {
	return m.update(sessionID, func(s *Session) {
		s.Status = status
	})
}

func (m *MemoryRegistry) UpdatePosition(ctx context.Context, sessionID string, position float64) error {
	return m.update(sessionID, func(s *Session) {
		s.Position = position
	})
}

func (m *MemoryRegistry) update(sessionID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	fn(s)
	s.LastHeartbeat = m.now()
	return nil
}

func (m *MemoryRegistry) Close() error {
	return nil
}
