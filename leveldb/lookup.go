// Package leveldb provides a lookup table kept on disk, for side tables too
// large to hold in memory for a whole run.
package leveldb

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// writeBatch is how many rows are buffered before a write to the database.
const writeBatch = 10000

var _ feindexer.StringTable = &Table{}
var _ feindexer.LookupSpec = SpillLookup{}

// SpillLookup is a feindexer.LookupSpec whose table lives in a leveldb
// database under Dir. The database is removed when the table is closed.
type SpillLookup struct {
	Query   feindexer.LookupQuery
	Chunked bool

	// Dir is the parent directory for the database. Empty means the
	// system temporary directory.
	Dir string
}

func (s SpillLookup) Name() string        { return s.Query.Name }
func (s SpillLookup) DependsOn() []string { return nil }
func (s SpillLookup) PerChunk() bool      { return s.Chunked }

// Build implements feindexer.LookupSpec.
func (s SpillLookup) Build(ctx context.Context, bc feindexer.BuildContext) (feindexer.Table, error) {
	q := s.Query
	if s.Chunked {
		q.Args = feindexer.ChunkArgs(q.Args, bc.Chunk)
	}
	log := bc.Log
	if log == nil {
		log = feindexer.NopLogger{}
	}
	rows, err := bc.Source.Query(ctx, q.Query, q.Args...)
	if err != nil {
		return nil, errors.Wrapf(err, "querying lookup %s", q.Name)
	}
	defer rows.Close()
	if cols := rows.Columns(); cols != nil {
		for _, want := range []string{q.KeyColumn, q.ValueColumn} {
			if !contains(cols, want) {
				return nil, errors.Errorf("lookup %s: no column %s", q.Name, want)
			}
		}
	}

	t, err := NewTable(s.Dir, q.Name)
	if err != nil {
		return nil, err
	}
	batch := new(leveldb.Batch)
	var skipped int
	for rows.Next() {
		row := rows.Row()
		key, ok := feindexer.KeyString(row[q.KeyColumn])
		if !ok {
			skipped++
			continue
		}
		val, ok := feindexer.KeyString(row[q.ValueColumn])
		if !ok {
			skipped++
			continue
		}
		t.put(batch, key, val)
		if batch.Len() >= writeBatch {
			if err := t.db.Write(batch, nil); err != nil {
				t.Close()
				return nil, errors.Wrapf(err, "writing lookup %s", q.Name)
			}
			batch.Reset()
		}
	}
	if err := rows.Err(); err != nil {
		t.Close()
		return nil, errors.Wrapf(err, "reading lookup %s", q.Name)
	}
	if err := t.db.Write(batch, nil); err != nil {
		t.Close()
		return nil, errors.Wrapf(err, "writing lookup %s", q.Name)
	}
	if err := t.count(); err != nil {
		t.Close()
		return nil, err
	}
	if skipped > 0 {
		log.Warnf("lookup %s: skipped %d rows with NULL key or value", q.Name, skipped)
	}
	log.Debugf("lookup %s: %d keys spilled to %s", q.Name, t.keys, t.path)
	return t, nil
}

func contains(cols []string, want string) bool {
	if want == "" {
		return true
	}
	for _, c := range cols {
		if c == want {
			return true
		}
	}
	return false
}

// Table is a feindexer.StringTable stored in leveldb. Each value is kept
// under its key, a zero byte and an 8 byte sequence number, so that a
// prefix scan returns a key's values in the order they were added.
type Table struct {
	name string
	path string
	db   *leveldb.DB
	seq  uint64
	keys int
}

// NewTable creates an empty table in a new directory under dir.
func NewTable(dir, name string) (*Table, error) {
	path, err := os.MkdirTemp(dir, "lookup-"+name+"-")
	if err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		os.RemoveAll(path)
		return nil, errors.Wrapf(err, "opening leveldb at %v", path)
	}
	return &Table{name: name, path: path, db: db}, nil
}

func (t *Table) put(b *leveldb.Batch, key, val string) {
	k := make([]byte, len(key)+9)
	copy(k, key)
	binary.BigEndian.PutUint64(k[len(key)+1:], t.seq)
	t.seq++
	b.Put(k, []byte(val))
}

// Add stores one value under key.
func (t *Table) Add(key, val string) error {
	b := new(leveldb.Batch)
	t.put(b, key, val)
	return errors.Wrap(t.db.Write(b, nil), "writing value")
}

// count recomputes the number of distinct keys.
func (t *Table) count() error {
	t.keys = 0
	return t.Range(func(string, []string) bool {
		t.keys++
		return true
	})
}

// Name implements feindexer.Table.
func (t *Table) Name() string { return t.name }

// Len implements feindexer.Table. It is the distinct key count as of the
// end of Build.
func (t *Table) Len() int { return t.keys }

// Get implements feindexer.StringTable.
func (t *Table) Get(key string) ([]string, bool) {
	prefix := append([]byte(key), 0)
	it := t.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var vals []string
	for it.Next() {
		vals = append(vals, string(it.Value()))
	}
	return vals, len(vals) > 0
}

// Range implements feindexer.StringTable. Keys are visited in byte order.
func (t *Table) Range(fn func(key string, values []string) bool) error {
	it := t.db.NewIterator(nil, nil)
	defer it.Release()
	var cur []byte
	var vals []string
	for it.Next() {
		k := it.Key()
		key := k[:len(k)-9]
		if len(vals) > 0 && !bytes.Equal(key, cur) {
			if !fn(string(cur), vals) {
				return nil
			}
			vals = nil
		}
		cur = append(cur[:0], key...)
		vals = append(vals, string(it.Value()))
	}
	if err := it.Error(); err != nil {
		return errors.Wrapf(err, "iterating lookup %s", t.name)
	}
	if len(vals) > 0 {
		fn(string(cur), vals)
	}
	return nil
}

// Close implements feindexer.Table, removing the database from disk.
func (t *Table) Close() error {
	err := t.db.Close()
	if rerr := os.RemoveAll(t.path); err == nil {
		err = rerr
	}
	return errors.Wrapf(err, "closing lookup %s", t.name)
}
