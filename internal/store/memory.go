package store

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/geoenrich/internal/table"
)

// MemoryStore keeps tables in process memory. Used by tests and dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*table.Table
}

// NewMemory returns an empty store.
func NewMemory() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*table.Table)}
}

func (m *MemoryStore) Save(_ context.Context, t *table.Table) error {
	if err := checkSave(t); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.Name] = t.Clone()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, name string) (*table.Table, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Close() error { return nil }
