package feindexer

import (
	"context"
)

// Row is one record returned from a data source query, keyed by column name.
// Values are whatever the driver produced: string, []byte, integer and float
// types, bool, time.Time or nil for NULL.
type Row map[string]interface{}

// DataSource is the relational database as seen by an indexer run. It is
// used read-only except for Exec, which exists so that preparation steps can
// create transient working tables. Implementations must keep statements on
// one session so that temporary tables created by Exec are visible to later
// queries.
type DataSource interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Exec(ctx context.Context, stmt string, args ...interface{}) error
	Close() error
}

// Rows iterates over the result of a query. Rows must be closed.
type Rows interface {
	Next() bool
	Row() Row
	Columns() []string
	Err() error
	Close() error
}

// ClosureSpec describes a transitive closure to materialize into a temporary
// table. Edges is a query returning at least the Parent and Child columns.
// The resulting table has the columns ancestor and descendant. When
// Reflexive is set every node also appears as its own ancestor.
type ClosureSpec struct {
	Table     string
	Edges     string
	Parent    string
	Child     string
	Reflexive bool
	Indexed   bool
}

// ClosureMaterializer is implemented by data sources which can compute a
// transitive closure inside the database.
type ClosureMaterializer interface {
	MaterializeClosure(ctx context.Context, spec ClosureSpec) error
}

// Step is a preparation step run against the data source before any lookup
// is built.
type Step interface {
	Run(ctx context.Context, src DataSource) error
	String() string
}

// ExecStep runs a single statement, usually DDL for a working table.
type ExecStep struct {
	Name string
	SQL  string
}

// Run implements Step.
func (e ExecStep) Run(ctx context.Context, src DataSource) error {
	return src.Exec(ctx, e.SQL)
}

func (e ExecStep) String() string { return "exec " + e.Name }

// ClosureStep materializes a transitive closure.
type ClosureStep struct {
	Spec ClosureSpec
}

// Run implements Step.
func (c ClosureStep) Run(ctx context.Context, src DataSource) error {
	cm, ok := src.(ClosureMaterializer)
	if !ok {
		return ErrNoClosure
	}
	return cm.MaterializeClosure(ctx, c.Spec)
}

func (c ClosureStep) String() string { return "closure " + c.Spec.Table }
