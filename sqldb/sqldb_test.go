package sqldb_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/sqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"select 1", "select 1"},
		{"select * from t where k > ? and k <= ?", "select * from t where k > $1 and k <= $2"},
		{"select '?' from t where k = ?", "select '?' from t where k = $1"},
		{`select "a?" from t where a = ? or b = ?`, `select "a?" from t where a = $1 or b = $2`},
	}
	for _, tst := range tests {
		assert.Equal(t, tst.out, sqldb.Rebind(tst.in))
	}
}

func mockSession(t *testing.T, driver string) (sqlmock.Sqlmock, *sqldb.Source) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	src, err := sqldb.NewDB(db, sqldb.Config{Driver: driver, QueryTimeout: 5 * time.Second}).Session(context.Background())
	require.NoError(t, err)
	return mock, src
}

func TestSourceQueryPostgres(t *testing.T) {
	mock, src := mockSession(t, "postgres")
	mock.ExpectQuery("select _marker_key, symbol from mrk_marker where _marker_key > $1 and _marker_key <= $2").
		WithArgs(int64(0), int64(5000)).
		WillReturnRows(sqlmock.NewRows([]string{"_marker_key", "symbol"}).
			AddRow(int64(1), []byte("Pax6")).
			AddRow(int64(2), nil))

	rows, err := src.Query(context.Background(), "select _marker_key, symbol from mrk_marker where _marker_key > ? and _marker_key <= ?", int64(0), int64(5000))
	require.NoError(t, err)
	assert.Equal(t, []string{"_marker_key", "symbol"}, rows.Columns())
	var got []feindexer.Row
	for rows.Next() {
		got = append(got, rows.Row())
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, []feindexer.Row{
		{"_marker_key": int64(1), "symbol": "Pax6"},
		{"_marker_key": int64(2), "symbol": nil},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceQueryMySQLKeepsPlaceholders(t *testing.T) {
	mock, src := mockSession(t, "mysql")
	mock.ExpectExec("create temporary table tmp_x (k int)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select k from tmp_x where k > ?").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"k"}))

	require.NoError(t, src.Exec(context.Background(), "create temporary table tmp_x (k int)"))
	rows, err := src.Query(context.Background(), "select k from tmp_x where k > ?", int64(3))
	require.NoError(t, err)
	assert.False(t, rows.Next())
	require.NoError(t, rows.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceConnectivity(t *testing.T) {
	mock, src := mockSession(t, "postgres")
	mock.ExpectQuery("select 1").WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")})
	mock.ExpectQuery("select 2").WillReturnError(errors.New(`relation "nope" does not exist`))

	_, err := src.Query(context.Background(), "select 1")
	require.Error(t, err)
	assert.True(t, feindexer.IsConnectivity(err))

	_, err = src.Query(context.Background(), "select 2")
	require.Error(t, err)
	assert.False(t, feindexer.IsConnectivity(err))
}

func TestClosureSQL(t *testing.T) {
	_, err := sqldb.ClosureSQL(feindexer.ClosureSpec{Table: "tmp; drop table x", Edges: "select 1", Parent: "p", Child: "c"})
	assert.Error(t, err)
	_, err = sqldb.ClosureSQL(feindexer.ClosureSpec{Table: "tmp", Parent: "p", Child: "c"})
	assert.Error(t, err)
	q, err := sqldb.ClosureSQL(feindexer.ClosureSpec{Table: "tmp", Edges: "select a, b from dag", Parent: "a", Child: "b", Reflexive: true})
	require.NoError(t, err)
	assert.Contains(t, q, "WITH RECURSIVE")
	assert.Contains(t, q, "UNION SELECT parent, parent FROM edges")
}
