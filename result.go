package feindexer

import (
	"fmt"
	"time"
)

// RunResult is the outcome of one indexer run.
type RunResult struct {
	Indexer string
	Index   string
	State   State

	Rows      int
	Documents int
	Written   int
	Skipped   int
	Chunks    int
	Batches   int

	// WriteFailures is the number of batches which were never written, and
	// FailedDocs the number of documents in them.
	WriteFailures int
	FailedDocs    int

	Err     error
	Started time.Time
	Elapsed time.Duration
}

// Failed reports whether the run failed or lost any documents.
func (r *RunResult) Failed() bool {
	return r.Err != nil || r.WriteFailures > 0
}

func (r *RunResult) String() string {
	s := fmt.Sprintf("%s: %s rows=%d docs=%d written=%d skipped=%d chunks=%d batches=%d in %v",
		r.Indexer, r.State, r.Rows, r.Documents, r.Written, r.Skipped, r.Chunks, r.Batches, r.Elapsed.Round(time.Millisecond))
	if r.WriteFailures > 0 {
		s += fmt.Sprintf(" failed_batches=%d failed_docs=%d", r.WriteFailures, r.FailedDocs)
	}
	if r.Err != nil {
		s += " err=" + r.Err.Error()
	}
	return s
}
