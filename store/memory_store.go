package store

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process. Writes are serialized so conditional
// puts behave like their remote counterparts.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Table() string {
	return ""
}

func (m *MemoryStore) EnsureTable(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Get(ctx context.Context, name string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[name]
	return rec, ok, nil
}

func (m *MemoryStore) ConditionalPut(ctx context.Context, rec Record, cond Condition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var current *Record
	if existing, ok := m.data[rec.Name]; ok {
		current = &existing
	}
	if !cond.Eval(current) {
		return ErrPreconditionFailed
	}
	m.data[rec.Name] = rec
	return nil
}

func (m *MemoryStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[rec.Name] = rec
	return nil
}
