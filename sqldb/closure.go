package sqldb

import (
	"context"
	"fmt"
	"regexp"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/pkg/errors"
)

var ident = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClosureSQL returns the statement which fills spec.Table with the
// transitive closure of the edges query.
func ClosureSQL(spec feindexer.ClosureSpec) (string, error) {
	for _, id := range []string{spec.Table, spec.Parent, spec.Child} {
		if !ident.MatchString(id) {
			return "", errors.Errorf("invalid identifier %q in closure spec", id)
		}
	}
	if spec.Edges == "" {
		return "", errors.New("closure spec has no edges query")
	}
	q := fmt.Sprintf(`CREATE TEMPORARY TABLE %s AS
WITH RECURSIVE edges(parent, child) AS (
  SELECT %s, %s FROM (%s) e
),
closure(ancestor, descendant) AS (
  SELECT parent, child FROM edges
  UNION
  SELECT c.ancestor, e.child FROM closure c JOIN edges e ON e.parent = c.descendant
)
SELECT ancestor, descendant FROM closure`, spec.Table, spec.Parent, spec.Child, spec.Edges)
	if spec.Reflexive {
		q += `
UNION SELECT parent, parent FROM edges
UNION SELECT child, child FROM edges`
	}
	return q, nil
}

// MaterializeClosure implements feindexer.ClosureMaterializer. The table
// lives until the session is closed.
func (s *Source) MaterializeClosure(ctx context.Context, spec feindexer.ClosureSpec) error {
	q, err := ClosureSQL(spec)
	if err != nil {
		return err
	}
	if err := s.Exec(ctx, "DROP TABLE IF EXISTS "+spec.Table); err != nil {
		return errors.Wrapf(err, "dropping old %s", spec.Table)
	}
	if err := s.Exec(ctx, q); err != nil {
		return errors.Wrapf(err, "materializing closure %s", spec.Table)
	}
	s.mu.Lock()
	s.temp = append(s.temp, spec.Table)
	s.mu.Unlock()
	if spec.Indexed {
		for _, col := range []string{"ancestor", "descendant"} {
			stmt := fmt.Sprintf("CREATE INDEX %s_%s_idx ON %s (%s)", spec.Table, col, spec.Table, col)
			if err := s.Exec(ctx, stmt); err != nil {
				return errors.Wrapf(err, "indexing %s", spec.Table)
			}
		}
	}
	return nil
}
