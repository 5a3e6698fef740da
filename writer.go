package feindexer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DocumentStore is the destination of an indexer run.
type DocumentStore interface {
	// Add writes docs in one bulk call.
	Add(ctx context.Context, docs []Document) error
	// DeleteAll removes every document from the destination.
	DeleteAll(ctx context.Context) error
	// Commit makes written documents visible to readers.
	Commit(ctx context.Context) error
	// Optimize compacts the destination.
	Optimize(ctx context.Context) error
}

// DefaultBatchSize is the number of documents per flush when none is
// configured.
const DefaultBatchSize = 10000

// WriterOptions configures a BatchWriter.
type WriterOptions struct {
	BatchSize int

	// Workers is the number of flushes which may be in flight at once. With
	// zero workers flushes run inline.
	Workers int

	// Retries is the number of extra attempts made for a failed flush.
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// Timeout bounds each store call. Zero means no timeout.
	Timeout time.Duration
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers < 0 {
		o.Workers = 0
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	return o
}

// backoff returns the delay before retry n, counting from 1.
func (o WriterOptions) backoff(n int) time.Duration {
	d := o.Backoff * (1 << uint(n-1))
	if o.MaxBackoff > 0 && d > o.MaxBackoff {
		d = o.MaxBackoff
	}
	return d
}

// FlushFailure records a batch which could not be written.
type FlushFailure struct {
	Batch int
	Docs  int
	Err   error
}

// WriterStats counts what a BatchWriter did.
type WriterStats struct {
	Added    int
	Written  int
	Batches  int
	Retries  int
	Failures []FlushFailure
}

// FailedDocs returns the number of documents in failed batches.
func (s WriterStats) FailedDocs() int {
	n := 0
	for _, f := range s.Failures {
		n += f.Docs
	}
	return n
}

// BatchWriter buffers documents and writes them to a DocumentStore in bulk.
// Add, Flush and CommitAndOptimize must be called from one goroutine.
type BatchWriter struct {
	store DocumentStore
	opts  WriterOptions
	log   Logger
	stats Statter

	buf     []Document
	batches int
	eg      *errgroup.Group

	mu sync.Mutex
	st WriterStats
}

// NewBatchWriter returns a BatchWriter writing to store.
func NewBatchWriter(store DocumentStore, opts WriterOptions, log Logger, stats Statter) *BatchWriter {
	opts = opts.withDefaults()
	if log == nil {
		log = NopLogger{}
	}
	if stats == nil {
		stats = NopStatter{}
	}
	w := &BatchWriter{
		store: store,
		opts:  opts,
		log:   log,
		stats: stats,
		buf:   make([]Document, 0, opts.BatchSize),
		eg:    &errgroup.Group{},
	}
	if opts.Workers > 0 {
		w.eg.SetLimit(opts.Workers)
	}
	return w
}

// Add buffers doc, flushing once the batch is full. The error is that of
// the flush, if one happened.
func (w *BatchWriter) Add(ctx context.Context, doc Document) error {
	w.buf = append(w.buf, doc)
	w.mu.Lock()
	w.st.Added++
	w.mu.Unlock()
	if len(w.buf) >= w.opts.BatchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush hands the buffered documents to the store and starts a new batch.
// With workers the write happens in the background and blocks only when
// every worker is busy; failures are then only visible in Stats.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	docs := w.buf
	w.buf = make([]Document, 0, w.opts.BatchSize)
	w.batches++
	batch := w.batches
	if w.opts.Workers == 0 {
		return w.write(ctx, batch, docs)
	}
	w.eg.Go(func() error {
		_ = w.write(ctx, batch, docs)
		return nil
	})
	return nil
}

// Wait blocks until every in-flight flush is done.
func (w *BatchWriter) Wait() {
	_ = w.eg.Wait()
}

func (w *BatchWriter) write(ctx context.Context, batch int, docs []Document) error {
	start := time.Now()
	var err error
	for attempt := 0; attempt <= w.opts.Retries; attempt++ {
		if attempt > 0 {
			d := w.opts.backoff(attempt)
			w.log.Warnf("batch %d: retrying in %v after: %v", batch, d, err)
			w.stats.Count("flush.retry", 1, 1)
			w.mu.Lock()
			w.st.Retries++
			w.mu.Unlock()
			if serr := sleep(ctx, d); serr != nil {
				break
			}
		}
		err = w.call(ctx, func(ctx context.Context) error { return w.store.Add(ctx, docs) })
		if err == nil {
			break
		}
	}
	w.stats.Timing("flush.time", time.Since(start), 1)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.st.Batches++
	if err != nil {
		w.st.Failures = append(w.st.Failures, FlushFailure{Batch: batch, Docs: len(docs), Err: err})
		w.stats.Count("flush.failed", 1, 1)
		w.log.Printf("batch %d: giving up on %d documents: %v", batch, len(docs), err)
		return errors.Wrapf(ErrFlushFailed, "batch %d: %v", batch, err)
	}
	w.st.Written += len(docs)
	w.stats.Count("flush", 1, 1)
	w.stats.Count("documents.written", int64(len(docs)), 1)
	w.log.Debugf("batch %d: wrote %d documents", batch, len(docs))
	return nil
}

// call runs fn under the per call timeout.
func (w *BatchWriter) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

// CommitAndOptimize flushes what's left, waits for in-flight flushes and
// commits. Batches which failed don't prevent the commit; the documents
// which were written are made visible.
func (w *BatchWriter) CommitAndOptimize(ctx context.Context, optimize bool) error {
	ferr := w.Flush(ctx)
	w.Wait()
	if err := w.call(ctx, w.store.Commit); err != nil {
		return errors.Wrap(err, "committing")
	}
	if optimize {
		if err := w.call(ctx, w.store.Optimize); err != nil {
			return errors.Wrap(err, "optimizing")
		}
	}
	return ferr
}

// Stats returns a snapshot of what the writer has done so far.
func (w *BatchWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.st
	st.Failures = append([]FlushFailure(nil), w.st.Failures...)
	return st
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
