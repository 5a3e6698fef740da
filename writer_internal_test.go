package feindexer

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	o := WriterOptions{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}.withDefaults()
	for n, exp := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 800 * time.Millisecond,
		5: time.Second,
		9: time.Second,
	} {
		if got := o.backoff(n); got != exp {
			t.Errorf("backoff(%d) = %v, want %v", n, got, exp)
		}
	}
}

func TestWriterDefaults(t *testing.T) {
	o := WriterOptions{Workers: -3, Retries: -1}.withDefaults()
	if o.BatchSize != DefaultBatchSize || o.Workers != 0 || o.Retries != 0 || o.Backoff != time.Second {
		t.Fatalf("unexpected defaults %+v", o)
	}
}

func TestChunkedLookups(t *testing.T) {
	specs := []LookupSpec{
		SQLLookup{Query: LookupQuery{Name: "terms"}},
		SQLLookup{Query: LookupQuery{Name: "annots"}, Chunked: true},
		ComposedLookup{As: "annot_terms", From: "annots", Via: "terms"},
		ComposedLookup{As: "term_terms", From: "terms", Via: "terms"},
	}
	ordered, err := orderLookups(specs)
	if err != nil {
		t.Fatalf("ordering: %v", err)
	}
	chunked := chunkedLookups(ordered)
	if !chunked["annots"] || !chunked["annot_terms"] || chunked["terms"] || chunked["term_terms"] {
		t.Fatalf("unexpected chunked set %v", chunked)
	}
}
