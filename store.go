package feindexer

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemStore is an in-memory DocumentStore. Documents are keyed by their ID
// field and only become visible to Docs on Commit. It backs dry runs and
// tests.
type MemStore struct {
	IDField string

	mu        sync.Mutex
	pending   map[string]Document
	committed map[string]Document
	cleared   bool

	Adds      int
	Commits   int
	Optimizes int
}

// NewMemStore returns an empty MemStore keyed by idField.
func NewMemStore(idField string) *MemStore {
	return &MemStore{
		IDField:   idField,
		pending:   make(map[string]Document),
		committed: make(map[string]Document),
	}
}

// Add implements DocumentStore.
func (m *MemStore) Add(ctx context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		id, ok := d.ID(m.IDField)
		if !ok {
			return errors.Errorf("document has no %s", m.IDField)
		}
		m.pending[id] = d
	}
	m.Adds++
	return nil
}

// DeleteAll implements DocumentStore.
func (m *MemStore) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]Document)
	m.cleared = true
	return nil
}

// Commit implements DocumentStore.
func (m *MemStore) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleared {
		m.committed = make(map[string]Document)
		m.cleared = false
	}
	for id, d := range m.pending {
		m.committed[id] = d
	}
	m.pending = make(map[string]Document)
	m.Commits++
	return nil
}

// Optimize implements DocumentStore.
func (m *MemStore) Optimize(ctx context.Context) error {
	m.mu.Lock()
	m.Optimizes++
	m.mu.Unlock()
	return nil
}

// Docs returns the committed documents by ID.
func (m *MemStore) Docs() map[string]Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Document, len(m.committed))
	for id, d := range m.committed {
		out[id] = d
	}
	return out
}

// IDs returns the committed document IDs in sorted order.
func (m *MemStore) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.committed))
	for id := range m.committed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
