// Package sqldb is the relational data source of an indexer run, on top of
// database/sql.
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/pkg/errors"

	// drivers selectable with Config.Driver
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// DefaultQueryTimeout bounds every statement when no timeout is configured.
// Primary queries stream for a long time, so it is generous.
const DefaultQueryTimeout = time.Hour

// Config holds what's needed to reach the database.
type Config struct {
	// Driver is a database/sql driver name: postgres, pgx, mysql or sqlite.
	Driver string
	DSN    string

	QueryTimeout time.Duration
	MaxOpenConns int
}

// DB is a pool of connections. Every indexer run takes its own Session.
type DB struct {
	db  *sql.DB
	cfg Config
}

// Open opens the pool and checks that the database answers.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s database", cfg.Driver)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, feindexer.Connectivity(errors.Wrapf(err, "pinging %s database", cfg.Driver))
	}
	return NewDB(db, cfg), nil
}

// NewDB wraps an already open pool.
func NewDB(db *sql.DB, cfg Config) *DB {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return &DB{db: db, cfg: cfg}
}

// Session pins one connection for a run so that temporary tables created by
// preparation steps stay visible to the queries which follow.
func (d *DB) Session(ctx context.Context) (*Source, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, feindexer.Connectivity(errors.Wrap(err, "getting connection"))
	}
	return &Source{
		conn:    conn,
		driver:  d.cfg.Driver,
		dollar:  dollarPlaceholders(d.cfg.Driver),
		timeout: d.cfg.QueryTimeout,
	}, nil
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.db.Close()
}

func dollarPlaceholders(driver string) bool {
	switch driver {
	case "postgres", "pgx", "pgx/v5":
		return true
	}
	return false
}

// Source is a feindexer.DataSource on one pinned connection.
type Source struct {
	conn    *sql.Conn
	driver  string
	dollar  bool
	timeout time.Duration

	mu   sync.Mutex
	temp []string
}

// Query implements feindexer.DataSource. The statement timeout lasts until
// the returned rows are closed.
func (s *Source) Query(ctx context.Context, query string, args ...interface{}) (feindexer.Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	rows, err := s.conn.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		cancel()
		return nil, classify(errors.Wrap(err, "querying"))
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return nil, errors.Wrap(err, "getting columns")
	}
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	return &sqlRows{rows: rows, cols: cols, vals: vals, ptrs: ptrs, cancel: cancel}, nil
}

// Exec implements feindexer.DataSource.
func (s *Source) Exec(ctx context.Context, stmt string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.conn.ExecContext(ctx, s.rebind(stmt), args...)
	return classify(errors.Wrap(err, "executing"))
}

// Close drops the temporary tables this session made and returns the
// connection to the pool.
func (s *Source) Close() error {
	s.mu.Lock()
	temp := s.temp
	s.temp = nil
	s.mu.Unlock()
	var firstErr error
	for _, t := range temp {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		_, err := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+t)
		cancel()
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "dropping %s", t)
		}
	}
	if err := s.conn.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "closing connection")
	}
	return firstErr
}

// rebind rewrites ? placeholders as $1, $2... for drivers which need it.
// Question marks inside quoted literals are left alone.
func (s *Source) rebind(query string) string {
	if !s.dollar || !strings.Contains(query, "?") {
		return query
	}
	return Rebind(query)
}

// Rebind rewrites ? placeholders as $1, $2...
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// classify marks transport failures as connectivity errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	cause := errors.Cause(err)
	if cause == driver.ErrBadConn || cause == context.DeadlineExceeded || cause == sql.ErrConnDone || errors.As(err, &ne) {
		return feindexer.Connectivity(err)
	}
	return err
}

type sqlRows struct {
	rows   *sql.Rows
	cols   []string
	vals   []interface{}
	ptrs   []interface{}
	cancel context.CancelFunc
	err    error
}

func (r *sqlRows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	if err := r.rows.Scan(r.ptrs...); err != nil {
		r.err = errors.Wrap(err, "scanning")
		return false
	}
	return true
}

func (r *sqlRows) Row() feindexer.Row {
	row := make(feindexer.Row, len(r.cols))
	for i, c := range r.cols {
		v := r.vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row[c] = v
	}
	return row
}

func (r *sqlRows) Columns() []string { return r.cols }

func (r *sqlRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return classify(errors.Wrap(r.rows.Err(), "reading rows"))
}

func (r *sqlRows) Close() error {
	err := r.rows.Close()
	r.cancel()
	return errors.Wrap(err, "closing rows")
}
