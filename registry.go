package feindexer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// All is the name which resolves to every registered indexer.
const All = "all"

// Registry maps names to indexers.
type Registry struct {
	mu       sync.RWMutex
	indexers map[string]*Indexer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{indexers: make(map[string]*Indexer)}
}

// Register adds ix to the registry. Invalid indexers and duplicate names
// are rejected.
func (r *Registry) Register(ix *Indexer) error {
	if err := ix.Validate(); err != nil {
		return errors.Wrap(err, "registering")
	}
	if ix.Name == All {
		return errors.Errorf("%s is reserved", All)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.indexers[ix.Name]; ok {
		return errors.Errorf("indexer %s already registered", ix.Name)
	}
	r.indexers[ix.Name] = ix
	return nil
}

// MustRegister is Register for static registrations. It panics on error.
func (r *Registry) MustRegister(ixs ...*Indexer) *Registry {
	for _, ix := range ixs {
		if err := r.Register(ix); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the named indexer.
func (r *Registry) Get(name string) (*Indexer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ix, ok := r.indexers[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownIndexer, name)
	}
	return ix, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.indexers))
	for n := range r.indexers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up names in order, expanding All and dropping repeats. Any
// unknown name fails the whole resolution.
func (r *Registry) Resolve(names []string) ([]*Indexer, error) {
	seen := make(map[string]bool)
	var out []*Indexer
	add := func(name string) error {
		if seen[name] {
			return nil
		}
		ix, err := r.Get(name)
		if err != nil {
			return err
		}
		seen[name] = true
		out = append(out, ix)
		return nil
	}
	for _, n := range names {
		if n == All {
			for _, an := range r.Names() {
				if err := add(an); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := add(n); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no indexers named")
	}
	return out, nil
}

// Observer is told about every finished run.
type Observer interface {
	Observe(ctx context.Context, res *RunResult) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, res *RunResult) error

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, res *RunResult) error { return f(ctx, res) }

// Dispatcher runs named indexers one after another. Each run gets its own
// data source session, document store, lookups and writer.
type Dispatcher struct {
	Registry *Registry

	// NewSource opens a data source session for one run.
	NewSource func(ctx context.Context) (DataSource, error)
	// NewStore opens the document store for the given destination index.
	NewStore func(ctx context.Context, index string) (DocumentStore, error)

	Writer    WriterOptions
	Log       Logger
	Stats     Statter
	Observers []Observer
}

// Run runs the named indexers in order. A failed indexer never stops the
// ones after it; the names of all failed indexers are returned together in
// a *FailedError.
func (d *Dispatcher) Run(ctx context.Context, names []string) ([]*RunResult, error) {
	ixs, err := d.Registry.Resolve(names)
	if err != nil {
		return nil, err
	}
	log := d.Log
	if log == nil {
		log = NopLogger{}
	}
	results := make([]*RunResult, 0, len(ixs))
	var failed []string
	for _, ix := range ixs {
		res := d.runOne(ctx, ix, log)
		results = append(results, res)
		if res.Failed() {
			failed = append(failed, ix.Name)
			log.Printf("FAILED %s", res)
		} else {
			log.Printf("finished %s", res)
		}
		for _, o := range d.Observers {
			if err := o.Observe(ctx, res); err != nil {
				log.Warnf("observing %s: %v", ix.Name, err)
			}
		}
	}
	if len(failed) > 0 {
		return results, &FailedError{Names: failed}
	}
	return results, nil
}

func (d *Dispatcher) runOne(ctx context.Context, ix *Indexer, log Logger) *RunResult {
	start := time.Now()
	failed := func(err error) *RunResult {
		return &RunResult{Indexer: ix.Name, Index: ix.Index, State: Failed, Err: err, Started: start, Elapsed: time.Since(start)}
	}
	src, err := d.NewSource(ctx)
	if err != nil {
		return failed(Connectivity(errors.Wrap(err, "opening data source")))
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warnf("closing data source for %s: %v", ix.Name, err)
		}
	}()
	store, err := d.NewStore(ctx, ix.Index)
	if err != nil {
		return failed(Connectivity(errors.Wrapf(err, "opening store for %s", ix.Index)))
	}
	c := NewController(ix, src, store, d.Writer, log, d.Stats)
	res := c.Run(ctx)
	if cl, ok := store.(interface{ Close() error }); ok {
		if err := cl.Close(); err != nil {
			log.Warnf("closing store for %s: %v", ix.Name, err)
		}
	}
	return res
}
