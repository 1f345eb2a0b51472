package session

import (
	"context"
	"sync"

	"docworkspace/internal/models"
)

// MemoryStore keeps persisted lists in process memory. Used when nothing
// should outlive the process, and in tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]models.PersistedEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]models.PersistedEntry{}}
}

func (m *MemoryStore) Load(ctx context.Context, key string) ([]models.PersistedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PersistedEntry(nil), m.data[key]...), nil
}

func (m *MemoryStore) Save(ctx context.Context, key string, entries []models.PersistedEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]models.PersistedEntry(nil), entries...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
