package feindexer_test

import (
	"testing"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/test"
	"github.com/pkg/errors"
)

func lookupsOf(t *testing.T, tables ...feindexer.Table) *feindexer.Lookups {
	t.Helper()
	ls := feindexer.NewLookups()
	for _, tbl := range tables {
		test.ErrNil(t, ls.Put(tbl), "put "+tbl.Name())
	}
	return ls
}

func stringLookup(name string, pairs ...string) *feindexer.Lookup[string] {
	b := feindexer.NewLookupBuilder[string](name)
	for i := 0; i+1 < len(pairs); i += 2 {
		b.Add(pairs[i], pairs[i+1])
	}
	return b.Lookup()
}

func TestAssembleMultiScenario(t *testing.T) {
	ls := lookupsOf(t, stringLookup("side", "1", "a", "1", "b", "2", "c"))
	a := &feindexer.Assembler{
		Rules: []feindexer.FieldRule{
			feindexer.Copy{Column: "key", Field: "id", Required: true},
			feindexer.Multi{Lookup: "side", Join: "key", Field: "values"},
		},
		Schema: feindexer.NewSchema("id").Multi("values"),
	}

	doc, err := a.Assemble(feindexer.Row{"key": int64(1)}, ls)
	test.ErrNil(t, err, "assembling key 1")
	test.MustBe(t, []string{"a", "b"}, test.SortedStrings(doc.Values("values")))

	doc, err = a.Assemble(feindexer.Row{"key": int64(3)}, ls)
	test.ErrNil(t, err, "assembling key 3")
	if v, ok := doc["values"]; ok {
		t.Fatalf("values should be absent for key 3, got %#v", v)
	}
}

func TestAssembleRules(t *testing.T) {
	ls := lookupsOf(t,
		stringLookup("scores", "1", "0.5", "1", "0.9", "1", "0.7"),
		stringLookup("syn", "1", "x", "1", "y", "1", "x"),
		stringLookup("alleles", "1", "y", "1", "z"),
		stringLookup("rank", "1", "42"),
		stringLookup("provider", "1", "Ensembl Gene Model", "2", "NCBI"),
	)
	a := &feindexer.Assembler{
		Rules: []feindexer.FieldRule{
			feindexer.Copy{Column: "key", Field: "id", Required: true},
			feindexer.Copy{Column: "flag", Default: int64(-1)},
			feindexer.Single{Lookup: "scores", Join: "key", Field: "score", Collapse: feindexer.CollapseLast},
			feindexer.Multi{Lookup: "syn", Join: "key", Field: "synonyms", Dedup: true},
			feindexer.Union{Lookups: []string{"syn", "alleles"}, Join: "key", Field: "all"},
			feindexer.Rank{Lookup: "rank", Join: "key", Field: "rank"},
			feindexer.Single{Lookup: "provider", Join: "key", Field: "provider",
				Normalize: feindexer.CanonicalLabel(map[string]string{"Ensembl Gene Model": "Ensembl"}, "")},
			feindexer.Normalize("accid", "sort", feindexer.NumericSortKey("MGI:")),
		},
	}

	doc, err := a.Assemble(feindexer.Row{"key": int64(1), "flag": nil, "accid": "MGI:0097490"}, ls)
	test.ErrNil(t, err, "assembling")
	test.MustBe(t, feindexer.Document{
		"id":       int64(1),
		"flag":     int64(-1),
		"score":    "0.7",
		"synonyms": []interface{}{"x", "y"},
		"all":      []interface{}{"x", "y", "z"},
		"rank":     int64(42),
		"provider": "Ensembl",
		"sort":     int64(97490),
	}, doc)

	doc, err = a.Assemble(feindexer.Row{"key": int64(2), "flag": int64(1), "accid": "J:12"}, ls)
	test.ErrNil(t, err, "assembling")
	test.MustBe(t, feindexer.Document{
		"id":       int64(2),
		"flag":     int64(1),
		"provider": "NCBI",
	}, doc)
}

func TestAssembleRequired(t *testing.T) {
	a := &feindexer.Assembler{
		Rules: []feindexer.FieldRule{
			feindexer.Copy{Column: "key", Field: "id", Required: true},
			feindexer.Copy{Column: "symbol", Required: true},
		},
	}
	_, err := a.Assemble(feindexer.Row{"key": int64(1), "symbol": nil}, feindexer.NewLookups())
	if errors.Cause(err) != feindexer.ErrMissingField {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if !feindexer.IsDocumentError(err) {
		t.Fatal("missing field should only fail the document")
	}
}

func TestAssembleUnknownLookup(t *testing.T) {
	a := &feindexer.Assembler{
		Rules: []feindexer.FieldRule{feindexer.Multi{Lookup: "nope", Join: "key", Field: "f"}},
	}
	_, err := a.Assemble(feindexer.Row{"key": int64(1)}, feindexer.NewLookups())
	if errors.Cause(err) != feindexer.ErrUnknownLookup {
		t.Fatalf("expected ErrUnknownLookup, got %v", err)
	}
	if feindexer.IsDocumentError(err) {
		t.Fatal("a missing lookup is a configuration error")
	}
}

func TestAssembleObjects(t *testing.T) {
	b := feindexer.NewLookupBuilder[reference]("refs")
	b.Add("1", reference{ID: "J:1", Symbol: "Pax6", Review: true})
	b.Add("1", reference{ID: "J:2", Symbol: "Kit"})
	ls := lookupsOf(t, b.Lookup())
	a := &feindexer.Assembler{
		Rules: []feindexer.FieldRule{
			feindexer.Objects[reference]{Lookup: "refs", Join: "key", Emit: func(doc feindexer.Document, refs []reference) error {
				for _, r := range refs {
					doc.Add("jnum", r.ID)
					if r.Review {
						doc.AddUnique("review", r.Symbol)
					}
				}
				return nil
			}},
		},
	}
	doc, err := a.Assemble(feindexer.Row{"key": "1"}, ls)
	test.ErrNil(t, err, "assembling")
	test.MustBe(t, feindexer.Document{"jnum": []interface{}{"J:1", "J:2"}, "review": []interface{}{"Pax6"}}, doc)

	doc, err = a.Assemble(feindexer.Row{"key": "2"}, ls)
	test.ErrNil(t, err, "assembling")
	test.MustBe(t, 0, len(doc))
}

func TestSchemaValidate(t *testing.T) {
	s := feindexer.NewSchema("id").Single("symbol").Multi("synonyms")
	tests := []struct {
		name string
		doc  feindexer.Document
		exp  error
	}{
		{"ok", feindexer.Document{"id": "1", "symbol": "Pax6", "synonyms": []interface{}{"a"}}, nil},
		{"missing id", feindexer.Document{"symbol": "Pax6"}, feindexer.ErrMissingField},
		{"undeclared", feindexer.Document{"id": "1", "name": "x"}, feindexer.ErrInvalidDocument},
		{"list in single", feindexer.Document{"id": "1", "symbol": []interface{}{"a", "b"}}, feindexer.ErrInvalidDocument},
		{"empty list", feindexer.Document{"id": "1", "synonyms": []interface{}{}}, feindexer.ErrInvalidDocument},
	}
	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			err := s.Validate(tst.doc)
			if errors.Cause(err) != tst.exp {
				t.Fatalf("expected %v, got %v", tst.exp, err)
			}
		})
	}
}

func TestNormalizers(t *testing.T) {
	sk := feindexer.NumericSortKey("MGI:")
	for in, exp := range map[string]interface{}{
		"MGI:97490": int64(97490),
		"MGI:00012": int64(12),
		"J:12":      nil,
		"MGI:abc":   nil,
	} {
		got, err := sk(in)
		test.ErrNil(t, err, in)
		test.MustBe(t, exp, got, in)
	}
	cl := feindexer.CanonicalLabel(map[string]string{"a": "A"}, "other")
	got, _ := cl("a")
	test.MustBe(t, "A", got)
	got, _ = cl("b")
	test.MustBe(t, "other", got)
}
