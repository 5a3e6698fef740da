package sqldb_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/sqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// openSQLite returns a pool over a fresh database file holding n markers,
// a synonym for every even marker and a small term DAG.
func openSQLite(t *testing.T, n int) *sqldb.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mgd.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		"create table mrk_marker (_marker_key integer primary key, symbol text)",
		"create table mgi_synonym (_object_key integer, synonym text)",
		"create table dag_edge (_parent_key integer, _child_key integer)",
		"insert into dag_edge values (1, 2), (2, 3), (3, 4), (1, 5)",
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	tx, err := db.Begin()
	require.NoError(t, err)
	for k := 1; k <= n; k++ {
		_, err := tx.Exec("insert into mrk_marker values (?, ?)", k, fmt.Sprintf("Sym%d", k))
		require.NoError(t, err)
		if k%2 == 0 {
			_, err := tx.Exec("insert into mgi_synonym values (?, ?)", k, fmt.Sprintf("syn%d", k))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tx.Commit())
	return sqldb.NewDB(db, sqldb.Config{Driver: "sqlite"})
}

func TestSQLiteChunkedCursor(t *testing.T) {
	db := openSQLite(t, 1001)
	src, err := db.Session(context.Background())
	require.NoError(t, err)
	defer src.Close()

	cur, err := feindexer.OpenChunked(context.Background(), src, feindexer.PrimaryQuery{
		BoundsQuery: "select min(_marker_key), max(_marker_key) from mrk_marker",
		Query:       "select _marker_key, symbol from mrk_marker where _marker_key > ? and _marker_key <= ? order by _marker_key",
		ChunkSize:   250,
		KeyColumn:   "_marker_key",
	})
	require.NoError(t, err)
	defer cur.Close()
	assert.Equal(t, feindexer.KeyRange{Min: 1, Max: 1001}, cur.Range())

	seen := make(map[int64]bool)
	chunks := 0
	for cur.NextChunk(context.Background()) {
		chunks++
		for cur.Next() {
			k, err := feindexer.Int64(cur.Row()["_marker_key"])
			require.NoError(t, err)
			require.False(t, seen[k], "key %d seen twice", k)
			seen[k] = true
		}
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, 5, chunks)
	assert.Len(t, seen, 1001)
}

func TestSQLiteEmptyBounds(t *testing.T) {
	db := openSQLite(t, 0)
	src, err := db.Session(context.Background())
	require.NoError(t, err)
	defer src.Close()
	r, err := feindexer.Bounds(context.Background(), src, "select min(_marker_key), max(_marker_key) from mrk_marker")
	require.NoError(t, err)
	assert.True(t, r.Empty)
}

func TestSQLiteClosure(t *testing.T) {
	db := openSQLite(t, 1)
	src, err := db.Session(context.Background())
	require.NoError(t, err)

	step := feindexer.ClosureStep{Spec: feindexer.ClosureSpec{
		Table:     "tmp_closure",
		Edges:     "select _parent_key, _child_key from dag_edge",
		Parent:    "_parent_key",
		Child:     "_child_key",
		Reflexive: true,
		Indexed:   true,
	}}
	require.NoError(t, step.Run(context.Background(), src))

	lk, err := feindexer.BuildLookup(context.Background(), src, feindexer.LookupQuery{
		Name:        "ancestors",
		Query:       "select descendant, ancestor from tmp_closure",
		KeyColumn:   "descendant",
		ValueColumn: "ancestor",
	}, feindexer.NopLogger{})
	require.NoError(t, err)

	anc, ok := lk.Get("4")
	require.True(t, ok)
	sort.Strings(anc)
	assert.Equal(t, []string{"1", "2", "3", "4"}, anc)
	anc, _ = lk.Get("5")
	sort.Strings(anc)
	assert.Equal(t, []string{"1", "5"}, anc)
	anc, _ = lk.Get("1")
	assert.Equal(t, []string{"1"}, anc)

	// the temp table goes away with the session
	require.NoError(t, src.Close())
	src, err = db.Session(context.Background())
	require.NoError(t, err)
	defer src.Close()
	_, err = src.Query(context.Background(), "select * from tmp_closure")
	assert.Error(t, err)
}

func TestSQLiteIndexerRun(t *testing.T) {
	db := openSQLite(t, 120)
	ix := &feindexer.Indexer{
		Name:  "marker",
		Index: "marker",
		Lookups: []feindexer.LookupSpec{
			feindexer.SQLLookup{
				Query: feindexer.LookupQuery{
					Name:        "synonyms",
					Query:       "select _object_key, synonym from mgi_synonym where _object_key > ? and _object_key <= ?",
					KeyColumn:   "_object_key",
					ValueColumn: "synonym",
				},
				Chunked: true,
			},
		},
		Primary: feindexer.PrimaryQuery{
			BoundsQuery: "select min(_marker_key), max(_marker_key) from mrk_marker",
			Query:       "select _marker_key, symbol from mrk_marker where _marker_key > ? and _marker_key <= ? order by _marker_key",
			ChunkSize:   50,
			KeyColumn:   "_marker_key",
		},
		Assembler: &feindexer.Assembler{
			Rules: []feindexer.FieldRule{
				feindexer.Copy{Column: "_marker_key", Field: "id", Required: true},
				feindexer.Copy{Column: "symbol", Required: true},
				feindexer.Multi{Lookup: "synonyms", Join: "_marker_key", Field: "synonym"},
			},
			Schema: feindexer.NewSchema("id").Required("symbol").Multi("synonym"),
		},
	}
	d := &feindexer.Dispatcher{
		Registry: feindexer.NewRegistry().MustRegister(ix),
		NewSource: func(ctx context.Context) (feindexer.DataSource, error) {
			return db.Session(ctx)
		},
	}
	store := feindexer.NewMemStore("id")
	d.NewStore = func(ctx context.Context, index string) (feindexer.DocumentStore, error) { return store, nil }

	results, err := d.Run(context.Background(), []string{"marker"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 120, results[0].Written)
	assert.Equal(t, 3, results[0].Chunks)

	docs := store.Docs()
	assert.Len(t, docs, 120)
	assert.Equal(t, feindexer.Document{"id": int64(42), "symbol": "Sym42", "synonym": []interface{}{"syn42"}}, docs["42"])
	assert.Equal(t, feindexer.Document{"id": int64(43), "symbol": "Sym43"}, docs["43"])
}
