package status

import (
	"context"
	"sync"

	"courier/internal/types"
)

// MemoryBackend keeps statuses in process memory. Contents are lost on exit.
type MemoryBackend struct {
	mu       sync.RWMutex
	statuses map[string]string
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{statuses: make(map[string]string)}
}

// Read implements Backend.
func (m *MemoryBackend) Read(_ context.Context, notificationID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.statuses[notificationID]
	return v, ok, nil
}

// Write implements Backend.
func (m *MemoryBackend) Write(_ context.Context, notificationID string, st types.NotificationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[notificationID] = string(st)
	return nil
}

// Len returns the number of tracked notifications.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}
