package feindexer

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Table is a built lookup. Tables are immutable once built and belong to a
// single indexer run.
type Table interface {
	Name() string
	Len() int
	Close() error
}

// StringTable is a Table of scalar string values.
type StringTable interface {
	Table
	// Get returns the values for key. The returned slice must not be
	// modified. An absent key returns false; a present key always has at
	// least one value.
	Get(key string) ([]string, bool)
	// Range calls fn for every key until fn returns false.
	Range(fn func(key string, values []string) bool) error
}

// Lookup maps a join key to the one or more values which share it.
type Lookup[V any] struct {
	name string
	m    map[string][]V

	skipped int
}

// Name returns the name of the lookup.
func (l *Lookup[V]) Name() string { return l.name }

// Skipped returns the number of source rows dropped while building.
func (l *Lookup[V]) Skipped() int { return l.skipped }

// Len returns the number of distinct keys.
func (l *Lookup[V]) Len() int { return len(l.m) }

// Close is a no-op for in-memory lookups.
func (l *Lookup[V]) Close() error { return nil }

// Get returns the values stored for key.
func (l *Lookup[V]) Get(key string) ([]V, bool) {
	vals, ok := l.m[key]
	if !ok {
		return nil, false
	}
	// cap the slice so an append by the caller can't write into the table
	return vals[:len(vals):len(vals)], true
}

// Keys returns every key in the lookup in sorted order.
func (l *Lookup[V]) Keys() []string {
	keys := make([]string, 0, len(l.m))
	for k := range l.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for every key, in no particular order, until fn returns
// false.
func (l *Lookup[V]) Range(fn func(key string, values []V) bool) error {
	for k, vals := range l.m {
		if !fn(k, vals[:len(vals):len(vals)]) {
			return nil
		}
	}
	return nil
}

// LookupBuilder accumulates values for a Lookup. A builder must not be used
// after Lookup is called.
type LookupBuilder[V any] struct {
	l *Lookup[V]
}

// NewLookupBuilder starts a new Lookup with the given name.
func NewLookupBuilder[V any](name string) *LookupBuilder[V] {
	return &LookupBuilder[V]{l: &Lookup[V]{name: name, m: make(map[string][]V)}}
}

// Add appends v to the values of key.
func (b *LookupBuilder[V]) Add(key string, v V) {
	b.l.m[key] = append(b.l.m[key], v)
}

// Skip records a dropped source row.
func (b *LookupBuilder[V]) Skip() {
	b.l.skipped++
}

// Lookup returns the finished Lookup.
func (b *LookupBuilder[V]) Lookup() *Lookup[V] {
	l := b.l
	b.l = nil
	return l
}

// LookupQuery describes a one-to-many side query.
type LookupQuery struct {
	Name        string
	Query       string
	Args        []interface{}
	KeyColumn   string
	ValueColumn string

	// Intern coalesces identical values to a single string.
	Intern bool
}

// BuildLookup runs q and maps each row's key column to its value column.
// Rows with a NULL key or value are skipped and reported in a single
// warning.
func BuildLookup(ctx context.Context, src DataSource, q LookupQuery, log Logger) (*Lookup[string], error) {
	var in *Interner
	if q.Intern {
		in = NewInterner()
	}
	var nullVals int
	lk, err := buildLookup(ctx, src, q, log, func(row Row) (string, bool, error) {
		val, ok := KeyString(row[q.ValueColumn])
		if !ok {
			nullVals++
			return "", false, nil
		}
		if in != nil {
			val = in.Intern(val)
		}
		return val, true, nil
	}, q.ValueColumn)
	if err != nil {
		return nil, err
	}
	if nullVals > 0 {
		log.Warnf("lookup %s: skipped %d rows with NULL %s", q.Name, nullVals, q.ValueColumn)
	}
	if in != nil {
		log.Debugf("lookup %s: %d distinct values interned", q.Name, in.Len())
	}
	return lk, nil
}

// BuildValueLookup runs q and maps each row's key column to a value built
// from the whole row by factory. Rows for which factory fails are skipped.
func BuildValueLookup[V any](ctx context.Context, src DataSource, q LookupQuery, factory func(Row) (V, error), log Logger) (*Lookup[V], error) {
	var bad int
	var firstErr error
	lk, err := buildLookup(ctx, src, q, log, func(row Row) (V, bool, error) {
		v, err := factory(row)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			bad++
			return v, false, nil
		}
		return v, true, nil
	})
	if err != nil {
		return nil, err
	}
	if bad > 0 {
		log.Warnf("lookup %s: skipped %d malformed rows, first: %v", q.Name, bad, firstErr)
	}
	return lk, nil
}

func buildLookup[V any](ctx context.Context, src DataSource, q LookupQuery, log Logger, value func(Row) (V, bool, error), required ...string) (*Lookup[V], error) {
	rows, err := src.Query(ctx, q.Query, q.Args...)
	if err != nil {
		return nil, errors.Wrapf(err, "querying lookup %s", q.Name)
	}
	defer rows.Close()
	if err := checkColumns(rows.Columns(), append([]string{q.KeyColumn}, required...)); err != nil {
		return nil, errors.Wrapf(err, "lookup %s", q.Name)
	}

	b := NewLookupBuilder[V](q.Name)
	var nullKeys int
	for rows.Next() {
		row := rows.Row()
		key, ok := KeyString(row[q.KeyColumn])
		if !ok {
			nullKeys++
			b.Skip()
			continue
		}
		v, ok, err := value(row)
		if err != nil {
			return nil, errors.Wrapf(err, "building lookup %s", q.Name)
		}
		if !ok {
			b.Skip()
			continue
		}
		b.Add(key, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading lookup %s", q.Name)
	}
	if nullKeys > 0 {
		log.Warnf("lookup %s: skipped %d rows with NULL %s", q.Name, nullKeys, q.KeyColumn)
	}
	lk := b.Lookup()
	log.Debugf("lookup %s: %d keys", q.Name, lk.Len())
	return lk, nil
}

func checkColumns(have []string, want []string) error {
	if have == nil {
		return nil
	}
	for _, w := range want {
		if w == "" {
			continue
		}
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return errors.Errorf("column %s not in result columns %v", w, have)
		}
	}
	return nil
}

// Collapse picks one value out of several for a single-valued field.
type Collapse int

const (
	// CollapseFirst keeps the first value in result order.
	CollapseFirst Collapse = iota
	// CollapseLast keeps the last value in result order.
	CollapseLast
	// CollapseJoin concatenates all values with a separator.
	CollapseJoin
	// CollapseMax keeps the largest value, numerically if every value is a
	// number.
	CollapseMax
	// CollapseMin keeps the smallest value, numerically if every value is a
	// number.
	CollapseMin
)

func (c Collapse) String() string {
	switch c {
	case CollapseFirst:
		return "first"
	case CollapseLast:
		return "last"
	case CollapseJoin:
		return "join"
	case CollapseMax:
		return "max"
	case CollapseMin:
		return "min"
	}
	return "collapse(" + strconv.Itoa(int(c)) + ")"
}

// Apply collapses vals. It returns false for an empty slice.
func (c Collapse) Apply(vals []string, sep string) (string, bool) {
	if len(vals) == 0 {
		return "", false
	}
	switch c {
	case CollapseLast:
		return vals[len(vals)-1], true
	case CollapseJoin:
		return strings.Join(vals, sep), true
	case CollapseMax, CollapseMin:
		best := vals[0]
		for _, v := range vals[1:] {
			if less(best, v) == (c == CollapseMax) {
				best = v
			}
		}
		return best, true
	default:
		return vals[0], true
	}
}

// less compares numerically when both values parse as numbers.
func less(a, b string) bool {
	fa, erra := strconv.ParseFloat(a, 64)
	fb, errb := strconv.ParseFloat(b, 64)
	if erra == nil && errb == nil {
		return fa < fb
	}
	return a < b
}

// Lookups holds the tables built for one run.
type Lookups struct {
	tables map[string]Table
}

// NewLookups returns an empty set of tables.
func NewLookups() *Lookups {
	return &Lookups{tables: make(map[string]Table)}
}

// Put adds t, closing any previous table with the same name.
func (l *Lookups) Put(t Table) error {
	if old, ok := l.tables[t.Name()]; ok && old != t {
		if err := old.Close(); err != nil {
			return errors.Wrapf(err, "closing lookup %s", old.Name())
		}
	}
	l.tables[t.Name()] = t
	return nil
}

// Table returns the named table.
func (l *Lookups) Table(name string) (Table, bool) {
	t, ok := l.tables[name]
	return t, ok
}

// Strings returns the named table as a StringTable.
func (l *Lookups) Strings(name string) (StringTable, error) {
	t, ok := l.tables[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownLookup, name)
	}
	switch st := t.(type) {
	case StringTable:
		return st, nil
	case *Lookup[string]:
		return stringLookup{st}, nil
	}
	return nil, errors.Errorf("lookup %s holds %T, not strings", name, t)
}

// Close closes every table.
func (l *Lookups) Close() error {
	errs := make(errorList, 0)
	for name, t := range l.tables {
		if err := t.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "closing lookup %s", name))
		}
	}
	l.tables = make(map[string]Table)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValuesOf returns the named table as a Lookup of value objects.
func ValuesOf[V any](l *Lookups, name string) (*Lookup[V], error) {
	t, ok := l.tables[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownLookup, name)
	}
	lk, ok := t.(*Lookup[V])
	if !ok {
		return nil, errors.Errorf("lookup %s holds %T", name, t)
	}
	return lk, nil
}

// stringLookup adapts a *Lookup[string] to StringTable.
type stringLookup struct {
	*Lookup[string]
}

func (s stringLookup) Range(fn func(key string, values []string) bool) error {
	return s.Lookup.Range(fn)
}

// BuildContext is what a LookupSpec gets to build its table.
type BuildContext struct {
	Source  DataSource
	Lookups *Lookups

	// Chunk is set when the lookup is built for one chunk of the primary
	// key range.
	Chunk *Chunk
	Log   Logger
}

// LookupSpec describes how to build one table during a run.
type LookupSpec interface {
	Name() string
	DependsOn() []string

	// PerChunk lookups are rebuilt for every chunk of the primary query,
	// restricted to that chunk's key range, to bound memory for side
	// tables which grow with the primary table.
	PerChunk() bool
	Build(ctx context.Context, bc BuildContext) (Table, error)
}

// ChunkArgs returns args with the chunk bounds appended when c is non-nil.
func ChunkArgs(args []interface{}, c *Chunk) []interface{} {
	if c == nil {
		return args
	}
	out := make([]interface{}, 0, len(args)+2)
	out = append(out, args...)
	return append(out, c.Start, c.Stop)
}

// SQLLookup builds a scalar lookup from a side query. When Chunked is set,
// the query takes the chunk's start (exclusive) and stop (inclusive) as its
// last two arguments.
type SQLLookup struct {
	Query   LookupQuery
	Chunked bool
}

func (s SQLLookup) Name() string        { return s.Query.Name }
func (s SQLLookup) DependsOn() []string { return nil }
func (s SQLLookup) PerChunk() bool      { return s.Chunked }

// Build implements LookupSpec.
func (s SQLLookup) Build(ctx context.Context, bc BuildContext) (Table, error) {
	q := s.Query
	if s.Chunked {
		q.Args = ChunkArgs(q.Args, bc.Chunk)
	}
	return BuildLookup(ctx, bc.Source, q, bc.Log)
}

// ValueLookup builds a lookup of value objects.
type ValueLookup[V any] struct {
	Query   LookupQuery
	Chunked bool
	Factory func(Row) (V, error)
}

func (v ValueLookup[V]) Name() string        { return v.Query.Name }
func (v ValueLookup[V]) DependsOn() []string { return nil }
func (v ValueLookup[V]) PerChunk() bool      { return v.Chunked }

// Build implements LookupSpec.
func (v ValueLookup[V]) Build(ctx context.Context, bc BuildContext) (Table, error) {
	q := v.Query
	if v.Chunked {
		q.Args = ChunkArgs(q.Args, bc.Chunk)
	}
	return BuildValueLookup(ctx, bc.Source, q, v.Factory, bc.Log)
}

// ComposedLookup joins two built lookups: each key of From maps to the
// de-duplicated union of the Via values of its From values. With IncludeSelf
// the From values themselves are included first.
type ComposedLookup struct {
	As          string
	From        string
	Via         string
	IncludeSelf bool
}

func (c ComposedLookup) Name() string        { return c.As }
func (c ComposedLookup) DependsOn() []string { return []string{c.From, c.Via} }
func (c ComposedLookup) PerChunk() bool      { return false }

// Build implements LookupSpec.
func (c ComposedLookup) Build(ctx context.Context, bc BuildContext) (Table, error) {
	from, err := bc.Lookups.Strings(c.From)
	if err != nil {
		return nil, errors.Wrapf(err, "composing %s", c.As)
	}
	via, err := bc.Lookups.Strings(c.Via)
	if err != nil {
		return nil, errors.Wrapf(err, "composing %s", c.As)
	}
	b := NewLookupBuilder[string](c.As)
	err = from.Range(func(key string, vals []string) bool {
		seen := make(map[string]struct{})
		add := func(v string) {
			if _, ok := seen[v]; ok {
				return
			}
			seen[v] = struct{}{}
			b.Add(key, v)
		}
		for _, v := range vals {
			if c.IncludeSelf {
				add(v)
			}
			if more, ok := via.Get(v); ok {
				for _, m := range more {
					add(m)
				}
			}
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "ranging over %s", c.From)
	}
	return b.Lookup(), nil
}

// orderLookups sorts specs so that every lookup comes after the lookups it
// depends on. Ties keep their configured order.
func orderLookups(specs []LookupSpec) ([]LookupSpec, error) {
	byName := make(map[string]LookupSpec, len(specs))
	for _, s := range specs {
		if _, dup := byName[s.Name()]; dup {
			return nil, errors.Errorf("duplicate lookup %s", s.Name())
		}
		byName[s.Name()] = s
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(specs))
	ordered := make([]LookupSpec, 0, len(specs))
	var visit func(s LookupSpec) error
	visit = func(s LookupSpec) error {
		switch state[s.Name()] {
		case done:
			return nil
		case visiting:
			return errors.Wrap(ErrLookupCycle, s.Name())
		}
		state[s.Name()] = visiting
		for _, dep := range s.DependsOn() {
			ds, ok := byName[dep]
			if !ok {
				return errors.Wrapf(ErrUnknownLookup, "%s depends on %s", s.Name(), dep)
			}
			if err := visit(ds); err != nil {
				return err
			}
		}
		state[s.Name()] = done
		ordered = append(ordered, s)
		return nil
	}
	for _, s := range specs {
		if err := visit(s); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// chunkedLookups returns the names of lookups which must be rebuilt per
// chunk: those which are PerChunk and those depending on one.
func chunkedLookups(ordered []LookupSpec) map[string]bool {
	chunked := make(map[string]bool)
	for _, s := range ordered {
		if s.PerChunk() {
			chunked[s.Name()] = true
			continue
		}
		for _, dep := range s.DependsOn() {
			if chunked[dep] {
				chunked[s.Name()] = true
				break
			}
		}
	}
	return chunked
}
