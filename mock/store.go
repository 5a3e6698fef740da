package mock

import (
	"context"
	"sync"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/pkg/errors"
)

// Store wraps a feindexer.MemStore, recording the order of calls and
// failing the ones it is told to.
type Store struct {
	*feindexer.MemStore

	mu    sync.Mutex
	Calls []string

	// AddFailures maps an Add call number, counting from 1, to how many
	// times that batch fails before it goes through. Retried attempts count
	// as the same call.
	AddFailures map[int]int
	ClearErr    error
	CommitErr   error

	adds     int
	attempts map[int]int
	batchOf  map[string]int
}

// NewStore returns a Store keyed by idField.
func NewStore(idField string) *Store {
	return &Store{
		MemStore:    feindexer.NewMemStore(idField),
		AddFailures: make(map[int]int),
		attempts:    make(map[int]int),
		batchOf:     make(map[string]int),
	}
}

func (s *Store) record(call string) {
	s.mu.Lock()
	s.Calls = append(s.Calls, call)
	s.mu.Unlock()
}

// Add implements feindexer.DocumentStore.
func (s *Store) Add(ctx context.Context, docs []feindexer.Document) error {
	s.record("add")
	s.mu.Lock()
	// batches are recognized by their first document's id so retries of
	// one batch count as one call
	first, _ := docs[0].ID(s.IDField)
	n, ok := s.batchOf[first]
	if !ok {
		s.adds++
		n = s.adds
		s.batchOf[first] = n
	}
	s.attempts[n]++
	fail := s.attempts[n] <= s.AddFailures[n]
	s.mu.Unlock()
	if fail {
		return errors.Errorf("add %d: connection reset", n)
	}
	return s.MemStore.Add(ctx, docs)
}

// DeleteAll implements feindexer.DocumentStore.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.record("delete")
	if s.ClearErr != nil {
		return s.ClearErr
	}
	s.mu.Lock()
	s.batchOf = make(map[string]int)
	s.adds = 0
	s.attempts = make(map[int]int)
	s.mu.Unlock()
	return s.MemStore.DeleteAll(ctx)
}

// Commit implements feindexer.DocumentStore.
func (s *Store) Commit(ctx context.Context) error {
	s.record("commit")
	if s.CommitErr != nil {
		return s.CommitErr
	}
	return s.MemStore.Commit(ctx)
}

// Optimize implements feindexer.DocumentStore.
func (s *Store) Optimize(ctx context.Context) error {
	s.record("optimize")
	return s.MemStore.Optimize(ctx)
}

// CallLog returns a copy of the calls made so far.
func (s *Store) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Calls...)
}
