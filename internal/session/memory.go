package session

import (
	"context"
	"sync"
	"time"

	"github.com/mosacloud/drive/internal/provenance"
)

type memoryEntry struct {
	state     State
	updatedAt time.Time
}

// MemoryRepository keeps sessions in process memory. Contexts are lost
// on restart.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Repository.
func (m *MemoryRepository) Get(_ context.Context, id string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e.state, ok, nil
}

// Put implements Repository.
func (m *MemoryRepository) Put(_ context.Context, id string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memoryEntry{state: st, updatedAt: m.now()}
	return nil
}

// Delete implements Repository.
func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// ClearMarks implements Repository.
func (m *MemoryRepository) ClearMarks(_ context.Context, id string, expected provenance.Marks) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.state.Marks != expected {
		return false, nil
	}
	e.state.Marks = provenance.Marks{}
	e.updatedAt = m.now()
	m.entries[id] = e
	return true, nil
}

// TakeRedirect implements Repository.
func (m *MemoryRepository) TakeRedirect(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.state.RedirectAfterLogin == "" {
		return "", nil
	}
	target := e.state.RedirectAfterLogin
	e.state.RedirectAfterLogin = ""
	e.updatedAt = m.now()
	m.entries[id] = e
	return target, nil
}

// Touch implements Repository.
func (m *MemoryRepository) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.updatedAt = m.now()
		m.entries[id] = e
	}
	return nil
}

// DeleteIdle implements Repository.
func (m *MemoryRepository) DeleteIdle(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.updatedAt.Before(before) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of sessions held.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Repository.
func (m *MemoryRepository) Close() error { return nil }
