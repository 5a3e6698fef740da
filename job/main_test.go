package job_test

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/job"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func strainDB(t *testing.T, withRepository bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mgd.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	stmts := []string{
		"create table mgi_synonym (_object_key integer, _mgitype_key integer, synonym text)",
		"create table prb_strain (_strain_key integer primary key, strain text, _repository_key integer)",
		"insert into prb_strain values (1, 'C57BL/6J', 1), (2, 'DBA/2J', null), (3, null, null)",
		"insert into mgi_synonym values (1, 10, 'B6')",
	}
	if withRepository {
		stmts = append(stmts,
			"create table strain_repository (_repository_key integer primary key, name text, latitude real, longitude real)",
			"insert into strain_repository values (1, 'JAX', 44.3876, -68.2039)")
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return path
}

func testMain(t *testing.T, dsn string) (*job.Main, *bytes.Buffer) {
	out := &bytes.Buffer{}
	m := job.NewMain()
	m.Driver = "sqlite"
	m.Database = dsn
	m.Store = job.StoreMemory
	m.LogPath = filepath.Join(t.TempDir(), "feindexer.log")
	m.HistoryPath = filepath.Join(t.TempDir(), "history.db")
	m.Indexers = []string{"strain"}
	m.Stdout = out
	return m, out
}

func TestRunMemoryStore(t *testing.T) {
	m, out := testMain(t, strainDB(t, true))
	require.NoError(t, m.Run())
	assert.Contains(t, out.String(), "strain: done rows=3 docs=2 written=2 skipped=1")

	docs := m.Stores["strain"].Docs()
	require.Len(t, docs, 2)
	assert.Equal(t, "drzkxb", docs["1"]["geohash"])

	hist := &bytes.Buffer{}
	h := job.NewHistoryMain()
	h.HistoryPath = m.HistoryPath
	h.Indexer = "strain"
	h.Stdout = hist
	require.NoError(t, h.Run())
	lines := strings.Split(strings.TrimSpace(hist.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "1 "), lines[1])
	assert.Contains(t, lines[1], "done")

	h.Indexer = "marker"
	assert.Equal(t, feindexer.ErrUnknownIndexer, errors.Cause(h.Run()))
}

func TestRunFailedIndexer(t *testing.T) {
	m, out := testMain(t, strainDB(t, false))
	err := m.Run()
	failed, ok := errors.Cause(err).(*feindexer.FailedError)
	require.True(t, ok, "expected a FailedError, got %v", err)
	assert.Equal(t, []string{"strain"}, failed.Names)
	assert.Contains(t, out.String(), "strain: failed")
}

func TestRunConfigErrors(t *testing.T) {
	m, _ := testMain(t, strainDB(t, true))
	m.Indexers = []string{"nope"}
	assert.Equal(t, feindexer.ErrUnknownIndexer, errors.Cause(m.Run()))

	m, _ = testMain(t, strainDB(t, true))
	m.Store = "solr"
	assert.Error(t, m.Run())
}

func TestList(t *testing.T) {
	out := &bytes.Buffer{}
	l := job.NewListMain()
	l.Stdout = out
	require.NoError(t, l.Run())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "marker "), lines[0])
	assert.Contains(t, lines[0], "chunked")
	assert.Contains(t, lines[1], "single pass")
}
