package leveldb

import (
	"context"
	"os"
	"testing"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/mock"
	"github.com/mgijax/feindexer-sub001/test"
)

const synonyms = "select _marker_key, synonym from mgi_synonym"

func synonymSource() *mock.Source {
	return mock.NewSource().Rows(synonyms,
		feindexer.Row{"_marker_key": int64(1), "synonym": "a"},
		feindexer.Row{"_marker_key": int64(2), "synonym": "c"},
		feindexer.Row{"_marker_key": int64(1), "synonym": "b"},
		feindexer.Row{"_marker_key": int64(10), "synonym": "d"},
		feindexer.Row{"_marker_key": nil, "synonym": "e"},
		feindexer.Row{"_marker_key": int64(3), "synonym": nil},
	)
}

func TestSpillLookup(t *testing.T) {
	dir := t.TempDir()
	spec := SpillLookup{
		Query: feindexer.LookupQuery{Name: "synonyms", Query: synonyms, KeyColumn: "_marker_key", ValueColumn: "synonym"},
		Dir:   dir,
	}
	tbl, err := spec.Build(context.Background(), feindexer.BuildContext{Source: synonymSource()})
	test.ErrNil(t, err, "building")
	st := tbl.(*Table)
	test.MustBe(t, 3, st.Len(), "keys")

	vals, ok := st.Get("1")
	test.MustBe(t, true, ok, "key 1 present")
	test.MustBe(t, []string{"a", "b"}, vals, "values of 1")
	if _, ok := st.Get("3"); ok {
		t.Fatal("key with only NULL values should be absent")
	}
	if _, ok := st.Get("100"); ok {
		t.Fatal("unexpected key 100")
	}

	var keys []string
	test.ErrNil(t, st.Range(func(key string, values []string) bool {
		keys = append(keys, key)
		return true
	}), "ranging")
	test.MustBe(t, []string{"1", "10", "2"}, keys, "range order")

	test.ErrNil(t, st.Close(), "closing")
	if _, err := os.Stat(st.path); !os.IsNotExist(err) {
		t.Fatalf("database directory should be removed, got %v", err)
	}
}

func TestSpillLookupInAssembler(t *testing.T) {
	ls := feindexer.NewLookups()
	defer ls.Close()
	spec := SpillLookup{
		Query: feindexer.LookupQuery{Name: "synonyms", Query: synonyms, KeyColumn: "_marker_key", ValueColumn: "synonym"},
		Dir:   t.TempDir(),
	}
	tbl, err := spec.Build(context.Background(), feindexer.BuildContext{Source: synonymSource(), Lookups: ls})
	test.ErrNil(t, err, "building")
	test.ErrNil(t, ls.Put(tbl), "putting")

	a := &feindexer.Assembler{Rules: []feindexer.FieldRule{
		feindexer.Copy{Column: "_marker_key", Field: "id", Required: true},
		feindexer.Multi{Lookup: "synonyms", Join: "_marker_key", Field: "synonyms"},
	}}
	doc, err := a.Assemble(feindexer.Row{"_marker_key": int64(1)}, ls)
	test.ErrNil(t, err, "assembling")
	test.MustBe(t, []interface{}{"a", "b"}, doc["synonyms"])
}

func TestSpillLookupMissingColumn(t *testing.T) {
	spec := SpillLookup{
		Query: feindexer.LookupQuery{Name: "synonyms", Query: synonyms, KeyColumn: "_marker_key", ValueColumn: "label"},
		Dir:   t.TempDir(),
	}
	if _, err := spec.Build(context.Background(), feindexer.BuildContext{Source: synonymSource()}); err == nil {
		t.Fatal("expected an error for a missing column")
	}
}
