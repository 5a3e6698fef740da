package feindexer

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// KeyRange is the inclusive range of primary keys found by a bounds query.
type KeyRange struct {
	Min, Max int64

	// Empty is set when the table had no rows.
	Empty bool
}

// Chunk is one slice (Start, Stop] of the primary key range.
type Chunk struct {
	Index int
	Start int64
	Stop  int64
}

// Contains reports whether key falls in the chunk.
func (c Chunk) Contains(key int64) bool {
	return key > c.Start && key <= c.Stop
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d (%d,%d]", c.Index, c.Start, c.Stop)
}

// Bounds runs query, which must return a single row of two columns holding
// the minimum and maximum key, in that order.
func Bounds(ctx context.Context, src DataSource, query string, args ...interface{}) (KeyRange, error) {
	rows, err := src.Query(ctx, query, args...)
	if err != nil {
		return KeyRange{}, errors.Wrap(err, "querying key bounds")
	}
	defer rows.Close()
	cols := rows.Columns()
	if len(cols) < 2 {
		return KeyRange{}, errors.Errorf("bounds query returned %d columns, need min and max", len(cols))
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return KeyRange{}, errors.Wrap(err, "reading key bounds")
		}
		return KeyRange{Empty: true}, nil
	}
	row := rows.Row()
	if err := rows.Err(); err != nil {
		return KeyRange{}, errors.Wrap(err, "reading key bounds")
	}
	minv, maxv := row[cols[0]], row[cols[1]]
	if minv == nil || maxv == nil {
		return KeyRange{Empty: true}, nil
	}
	r := KeyRange{}
	if r.Min, err = Int64(minv); err != nil {
		return KeyRange{}, errors.Wrap(err, "parsing min key")
	}
	if r.Max, err = Int64(maxv); err != nil {
		return KeyRange{}, errors.Wrap(err, "parsing max key")
	}
	if r.Max < r.Min {
		return KeyRange{}, errors.Errorf("max key %d below min key %d", r.Max, r.Min)
	}
	return r, nil
}

// PlanChunks splits r into chunks of size keys. The first chunk starts just
// below Min and chunks advance by size until one reaches Max, so the last
// chunk may extend past Max. A stop which would pass math.MaxInt64 is clamped
// to it. Min may not be math.MinInt64 since the first chunk's exclusive start
// would not fit.
func PlanChunks(r KeyRange, size int64) ([]Chunk, error) {
	if r.Empty || size <= 0 {
		return nil, nil
	}
	if r.Min == math.MinInt64 {
		return nil, errors.Errorf("min key %d has no exclusive lower bound", r.Min)
	}
	chunks := make([]Chunk, 0, uint64(r.Max-r.Min)/uint64(size)+1)
	for start := r.Min - 1; ; {
		stop := int64(math.MaxInt64)
		if start <= math.MaxInt64-size {
			stop = start + size
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, Stop: stop})
		if stop >= r.Max {
			return chunks, nil
		}
		start = stop
	}
}

// PrimaryQuery describes the main record set of an indexer.
type PrimaryQuery struct {
	// BoundsQuery returns min(key), max(key). Only used when ChunkSize > 0.
	BoundsQuery string

	// Query returns the primary rows in key order. When ChunkSize > 0 it
	// takes the chunk start (exclusive) and stop (inclusive) as its last two
	// arguments.
	Query string
	Args  []interface{}

	ChunkSize int64

	// KeyColumn, if set, is checked on every row for key order and chunk
	// membership.
	KeyColumn string
}

// Cursor yields primary rows one chunk at a time. Only one chunk query is
// open at once.
type Cursor struct {
	// OnChunk, if set, is called with each chunk before its query is
	// issued, so that per chunk lookups can be built while no rows are open
	// on the session.
	OnChunk func(ctx context.Context, c *Chunk) error

	src DataSource
	pq  PrimaryQuery

	r      KeyRange
	chunks []Chunk
	next   int
	cur    *Chunk

	rows    Rows
	row     Row
	lastKey int64
	seen    bool
	err     error
}

// OpenChunked prepares a cursor over pq. For chunked queries the key bounds
// are fetched immediately; no rows are read until NextChunk.
func OpenChunked(ctx context.Context, src DataSource, pq PrimaryQuery) (*Cursor, error) {
	c := &Cursor{src: src, pq: pq}
	if pq.ChunkSize <= 0 {
		return c, nil
	}
	if pq.BoundsQuery == "" {
		return nil, errors.New("chunked primary query needs a bounds query")
	}
	r, err := Bounds(ctx, src, pq.BoundsQuery, pq.Args...)
	if err != nil {
		return nil, err
	}
	c.r = r
	if c.chunks, err = PlanChunks(r, pq.ChunkSize); err != nil {
		return nil, err
	}
	return c, nil
}

// Range returns the key bounds of a chunked cursor.
func (c *Cursor) Range() KeyRange { return c.r }

// Chunks returns the planned chunks, or nil for a single pass cursor.
func (c *Cursor) Chunks() []Chunk { return c.chunks }

// NextChunk closes the current chunk and opens the next one. It returns
// false when there are no more chunks or on error.
func (c *Cursor) NextChunk(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := c.closeRows(); err != nil {
		c.err = err
		return false
	}
	args := c.pq.Args
	if c.pq.ChunkSize <= 0 {
		if c.next > 0 {
			return false
		}
		c.cur = nil
	} else {
		if c.next >= len(c.chunks) {
			return false
		}
		ch := c.chunks[c.next]
		c.cur = &ch
		args = ChunkArgs(args, c.cur)
	}
	c.next++
	if c.OnChunk != nil && c.cur != nil {
		if err := c.OnChunk(ctx, c.cur); err != nil {
			c.err = err
			return false
		}
	}
	rows, err := c.src.Query(ctx, c.pq.Query, args...)
	if err != nil {
		c.err = errors.Wrapf(err, "querying %s", c.describe())
		return false
	}
	c.rows = rows
	return true
}

// Chunk returns the current chunk, or nil for a single pass cursor.
func (c *Cursor) Chunk() *Chunk { return c.cur }

// Next advances to the next row of the current chunk.
func (c *Cursor) Next() bool {
	if c.rows == nil || c.err != nil {
		return false
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.err = errors.Wrapf(err, "reading %s", c.describe())
		}
		if err := c.closeRows(); err != nil && c.err == nil {
			c.err = err
		}
		return false
	}
	c.row = c.rows.Row()
	if c.pq.KeyColumn != "" {
		if err := c.checkKey(); err != nil {
			c.err = err
			_ = c.closeRows()
			return false
		}
	}
	return true
}

func (c *Cursor) checkKey() error {
	key, err := Int64(c.row[c.pq.KeyColumn])
	if err != nil {
		return errors.Wrapf(err, "reading key column %s", c.pq.KeyColumn)
	}
	if c.seen && key < c.lastKey {
		return errors.Wrapf(ErrCursorOrder, "key %d after %d", key, c.lastKey)
	}
	if c.cur != nil && !c.cur.Contains(key) {
		return errors.Wrapf(ErrCursorOrder, "key %d outside %s", key, c.cur)
	}
	c.lastKey, c.seen = key, true
	return nil
}

// Row returns the current row.
func (c *Cursor) Row() Row { return c.row }

// Err returns the first error the cursor hit.
func (c *Cursor) Err() error { return c.err }

// Close releases the open chunk query, if any.
func (c *Cursor) Close() error {
	return c.closeRows()
}

func (c *Cursor) closeRows() error {
	if c.rows == nil {
		return nil
	}
	err := c.rows.Close()
	c.rows = nil
	return errors.Wrap(err, "closing rows")
}

func (c *Cursor) describe() string {
	if c.cur == nil {
		return "primary query"
	}
	return c.cur.String()
}
