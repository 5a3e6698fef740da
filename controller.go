package feindexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// State is a step of an indexer run.
type State int

const (
	Idle State = iota
	ClearingIndex
	BuildingLookups
	Streaming
	FinalFlush
	Committing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ClearingIndex:
		return "clearing"
	case BuildingLookups:
		return "building-lookups"
	case Streaming:
		return "streaming"
	case FinalFlush:
		return "final-flush"
	case Committing:
		return "committing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// maxSkipWarnings is how many skipped documents are logged individually per
// run.
const maxSkipWarnings = 10

// Controller runs one indexer against an already connected data source and
// document store. A Controller is used for a single run.
type Controller struct {
	Indexer *Indexer
	Source  DataSource
	Store   DocumentStore
	Writer  WriterOptions
	Log     Logger
	Stats   Statter

	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to State)

	mu    sync.Mutex
	state State
}

// NewController returns a Controller for one run of ix.
func NewController(ix *Indexer, src DataSource, store DocumentStore, opts WriterOptions, log Logger, stats Statter) *Controller {
	if log == nil {
		log = NopLogger{}
	}
	if stats == nil {
		stats = NopStatter{}
	}
	return &Controller{
		Indexer: ix,
		Source:  src,
		Store:   store,
		Writer:  opts,
		Log:     log.WithField("indexer", ix.Name),
		Stats:   stats,
	}
}

// State returns the current state of the run.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) to(s State) {
	c.mu.Lock()
	from := c.state
	c.state = s
	c.mu.Unlock()
	c.Log.Debugf("%s -> %s", from, s)
	if c.OnTransition != nil {
		c.OnTransition(from, s)
	}
}

// Run clears the destination, builds lookups, streams the primary rows into
// documents and commits. It never returns nil.
func (c *Controller) Run(ctx context.Context) *RunResult {
	ix := c.Indexer
	res := &RunResult{Indexer: ix.Name, Index: ix.Index, Started: time.Now()}
	tag := "indexer:" + ix.Name
	defer func() {
		res.Elapsed = time.Since(res.Started)
		res.State = c.State()
		c.Stats.Timing("run.time", res.Elapsed, 1, tag)
		if res.Failed() {
			c.Stats.Count("run.failed", 1, 1, tag)
		}
	}()

	if err := ix.Validate(); err != nil {
		return c.fail(res, err)
	}
	c.to(ClearingIndex)
	if err := c.call(ctx, c.Store.DeleteAll); err != nil {
		return c.fail(res, errors.Wrapf(err, "clearing %s", ix.Index))
	}

	c.to(BuildingLookups)
	lookups := NewLookups()
	defer func() {
		if err := lookups.Close(); err != nil {
			c.Log.Warnf("closing lookups: %v", err)
		}
	}()
	for _, step := range ix.Prepare {
		c.Log.Debugf("preparing: %s", step)
		if err := step.Run(ctx, c.Source); err != nil {
			return c.fail(res, errors.Wrapf(err, "preparing %s", step))
		}
	}
	ordered, err := orderLookups(ix.Lookups)
	if err != nil {
		return c.fail(res, err)
	}
	chunked := chunkedLookups(ordered)
	if err := c.buildLookups(ctx, ordered, lookups, nil, func(name string) bool { return !chunked[name] }); err != nil {
		return c.fail(res, err)
	}

	c.to(Streaming)
	opts := c.Writer
	if ix.BatchSize > 0 {
		opts.BatchSize = ix.BatchSize
	}
	w := NewBatchWriter(c.Store, opts, c.Log, c.Stats)
	defer c.collect(res, w)

	cur, err := OpenChunked(ctx, c.Source, ix.Primary)
	if err != nil {
		return c.fail(res, err)
	}
	defer cur.Close()
	if ix.Primary.ChunkSize > 0 {
		r := cur.Range()
		c.Log.Printf("streaming keys %d..%d in %d chunks", r.Min, r.Max, len(cur.Chunks()))
	}
	if len(chunked) > 0 {
		cur.OnChunk = func(ctx context.Context, ch *Chunk) error {
			err := c.buildLookups(ctx, ordered, lookups, ch, func(name string) bool { return chunked[name] })
			return errors.Wrapf(err, "building lookups for %s", ch)
		}
	}
	for cur.NextChunk(ctx) {
		ch := cur.Chunk()
		if err := c.stream(ctx, cur, lookups, w, res); err != nil {
			w.Wait()
			return c.fail(res, err)
		}
		res.Chunks++
		if ch != nil {
			c.Log.Debugf("%s done, %d rows so far", ch, res.Rows)
		}
	}
	if err := cur.Err(); err != nil {
		w.Wait()
		return c.fail(res, err)
	}

	c.to(FinalFlush)
	if err := w.Flush(ctx); err != nil {
		c.Log.Warnf("final flush: %v", err)
	}
	w.Wait()

	c.to(Committing)
	if err := w.CommitAndOptimize(ctx, ix.Optimize); err != nil {
		return c.fail(res, err)
	}
	c.to(Done)
	return res
}

// stream assembles and writes the rows of the current chunk.
func (c *Controller) stream(ctx context.Context, cur *Cursor, lookups *Lookups, w *BatchWriter, res *RunResult) error {
	tag := "indexer:" + c.Indexer.Name
	var rows, docs, skipped int64
	defer func() {
		c.Stats.Count("rows", rows, 1, tag)
		c.Stats.Count("documents", docs, 1, tag)
		if skipped > 0 {
			c.Stats.Count("documents.skipped", skipped, 1, tag)
		}
	}()
	for cur.Next() {
		row := cur.Row()
		res.Rows++
		rows++
		doc, err := c.Indexer.Assembler.Assemble(row, lookups)
		if err != nil {
			if !IsDocumentError(err) {
				return errors.Wrap(err, "assembling")
			}
			res.Skipped++
			skipped++
			if res.Skipped <= maxSkipWarnings {
				c.Log.Warnf("skipping row %v: %v", row[c.Indexer.Primary.KeyColumn], err)
			}
			continue
		}
		res.Documents++
		docs++
		// flush failures are recorded by the writer and the run goes on
		_ = w.Add(ctx, doc)
	}
	return cur.Err()
}

func (c *Controller) buildLookups(ctx context.Context, ordered []LookupSpec, lookups *Lookups, ch *Chunk, want func(string) bool) error {
	for _, spec := range ordered {
		if !want(spec.Name()) {
			continue
		}
		start := time.Now()
		t, err := spec.Build(ctx, BuildContext{Source: c.Source, Lookups: lookups, Chunk: ch, Log: c.Log})
		if err != nil {
			return errors.Wrapf(err, "building lookup %s", spec.Name())
		}
		if err := lookups.Put(t); err != nil {
			return err
		}
		c.Stats.Timing("lookup.time", time.Since(start), 1, "indexer:"+c.Indexer.Name, "lookup:"+spec.Name())
		if ch == nil {
			c.Log.Printf("lookup %s: %d keys in %v", spec.Name(), t.Len(), time.Since(start).Round(time.Millisecond))
		}
	}
	return nil
}

func (c *Controller) call(ctx context.Context, fn func(context.Context) error) error {
	if c.Writer.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Writer.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

// collect copies the writer's counts into res.
func (c *Controller) collect(res *RunResult, w *BatchWriter) {
	st := w.Stats()
	res.Written = st.Written
	res.Batches = st.Batches
	res.WriteFailures = len(st.Failures)
	res.FailedDocs = st.FailedDocs()
	if res.Err == nil && res.WriteFailures > 0 {
		c.Log.Printf("%d of %d batches failed, %d documents not written", res.WriteFailures, res.Batches, res.FailedDocs)
	}
}

func (c *Controller) fail(res *RunResult, err error) *RunResult {
	res.Err = err
	c.Log.Printf("failed in %s: %v", c.State(), err)
	c.to(Failed)
	return res
}
