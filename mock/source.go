package mock

import (
	"context"
	"sort"
	"sync"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/pkg/errors"
)

// QueryFunc answers one query for a Source.
type QueryFunc func(args []interface{}) (cols []string, rows []feindexer.Row, err error)

// Source is an in-memory feindexer.DataSource answering a fixed set of
// queries, matched on their exact text.
type Source struct {
	mu      sync.Mutex
	queries map[string]QueryFunc

	ExecErr error
	Execs   []string
	Ran     []string
	Closed  bool
}

// NewSource returns a Source which knows no queries.
func NewSource() *Source {
	return &Source{queries: make(map[string]QueryFunc)}
}

// On answers query with fn.
func (s *Source) On(query string, fn QueryFunc) *Source {
	s.queries[query] = fn
	return s
}

// Rows answers query with rows whatever the arguments.
func (s *Source) Rows(query string, rows ...feindexer.Row) *Source {
	return s.On(query, func([]interface{}) ([]string, []feindexer.Row, error) {
		return columns(rows), rows, nil
	})
}

// Bounds answers query with a single min, max row.
func (s *Source) Bounds(query string, min, max interface{}) *Source {
	return s.On(query, func([]interface{}) ([]string, []feindexer.Row, error) {
		return []string{"min", "max"}, []feindexer.Row{{"min": min, "max": max}}, nil
	})
}

// Ranged answers query with the rows whose key column falls in (start,
// stop], taken from the last two arguments. Without two arguments every row
// is returned.
func (s *Source) Ranged(query, key string, rows ...feindexer.Row) *Source {
	return s.On(query, func(args []interface{}) ([]string, []feindexer.Row, error) {
		if len(args) < 2 {
			return columns(rows), rows, nil
		}
		start, err := feindexer.Int64(args[len(args)-2])
		if err != nil {
			return nil, nil, err
		}
		stop, err := feindexer.Int64(args[len(args)-1])
		if err != nil {
			return nil, nil, err
		}
		var out []feindexer.Row
		for _, r := range rows {
			k, err := feindexer.Int64(r[key])
			if err != nil {
				return nil, nil, err
			}
			if k > start && k <= stop {
				out = append(out, r)
			}
		}
		return columns(rows), out, nil
	})
}

// Query implements feindexer.DataSource.
func (s *Source) Query(ctx context.Context, query string, args ...interface{}) (feindexer.Rows, error) {
	s.mu.Lock()
	s.Ran = append(s.Ran, query)
	fn, ok := s.queries[query]
	s.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("unexpected query: %s", query)
	}
	cols, rows, err := fn(args)
	if err != nil {
		return nil, err
	}
	return &Rows{cols: cols, rows: rows, i: -1}, nil
}

// Exec implements feindexer.DataSource.
func (s *Source) Exec(ctx context.Context, stmt string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Execs = append(s.Execs, stmt)
	return s.ExecErr
}

// Close implements feindexer.DataSource.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Count returns how many times query was run.
func (s *Source) Count(query string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.Ran {
		if q == query {
			n++
		}
	}
	return n
}

// Rows iterates over a fixed slice of rows.
type Rows struct {
	cols []string
	rows []feindexer.Row
	i    int

	// Fail, if set, is returned by Err once the rows run out.
	Fail   error
	closed bool
}

// NewRows returns Rows over rows.
func NewRows(cols []string, rows ...feindexer.Row) *Rows {
	return &Rows{cols: cols, rows: rows, i: -1}
}

// Next implements feindexer.Rows.
func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	r.i++
	return r.i < len(r.rows)
}

// Row implements feindexer.Rows.
func (r *Rows) Row() feindexer.Row { return r.rows[r.i] }

// Columns implements feindexer.Rows.
func (r *Rows) Columns() []string { return r.cols }

// Err implements feindexer.Rows.
func (r *Rows) Err() error {
	if r.i >= len(r.rows) {
		return r.Fail
	}
	return nil
}

// Close implements feindexer.Rows.
func (r *Rows) Close() error {
	r.closed = true
	return nil
}

func columns(rows []feindexer.Row) []string {
	if len(rows) == 0 {
		return nil
	}
	set := make(map[string]struct{})
	for _, r := range rows {
		for c := range r {
			set[c] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
