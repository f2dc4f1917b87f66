package lease

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryBackend - замки внутри одного процесса.
type MemoryBackend struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryBackend создаёт пустой бэкенд.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{locks: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryBackend) TryLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.locks[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	m.locks[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryBackend) Unlock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.locks[key]; ok && e.token == token {
		delete(m.locks, key)
	}
	return nil
}
