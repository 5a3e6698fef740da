// Package pilosa writes indexer documents to a Pilosa index, one column per
// document, so that documents can be counted and intersected by field value.
package pilosa

import (
	"context"
	"io"
	"math"
	"time"

	feindexer "github.com/mgijax/feindexer-sub001"
	gopilosa "github.com/pilosa/go-pilosa"
	"github.com/pkg/errors"
)

// Config holds the connection settings for a Pilosa cluster.
type Config struct {
	Hosts     []string
	BatchSize int

	// CacheSize is the ranked cache size of set fields.
	CacheSize int
}

// Store is a feindexer.DocumentStore for one Pilosa index. Document IDs
// become column keys. Values of set fields become row keys, values of
// integer fields become field values.
type Store struct {
	client    *gopilosa.Client
	schema    *gopilosa.Schema
	index     *gopilosa.Index
	fields    map[string]*gopilosa.Field
	idField   string
	ints      map[string]bool
	batchSize int
	log       feindexer.Logger
}

// NewStore connects to the cluster and declares index with a field for every
// field of docSchema except the ID field.
func NewStore(cfg Config, index string, docSchema *feindexer.Schema, log feindexer.Logger) (*Store, error) {
	client, err := gopilosa.NewClient(cfg.Hosts,
		gopilosa.OptClientSocketTimeout(time.Minute*60),
		gopilosa.OptClientConnectTimeout(time.Second*60))
	if err != nil {
		return nil, feindexer.Connectivity(errors.Wrap(err, "creating pilosa cluster client"))
	}
	return newStore(client, cfg, index, docSchema, log), nil
}

func newStore(client *gopilosa.Client, cfg Config, index string, docSchema *feindexer.Schema, log feindexer.Logger) *Store {
	if log == nil {
		log = feindexer.NopLogger{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100000
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100000
	}
	s := &Store{
		client:    client,
		fields:    make(map[string]*gopilosa.Field),
		idField:   docSchema.IDField,
		ints:      make(map[string]bool),
		batchSize: cfg.BatchSize,
		log:       log,
	}
	s.schema = gopilosa.NewSchema()
	s.index = s.schema.Index(index, gopilosa.OptIndexKeys(true))
	for _, name := range docSchema.Names() {
		if name == docSchema.IDField {
			continue
		}
		if docSchema.Fields[name].Int {
			s.ints[name] = true
			s.fields[name] = s.index.Field(name, gopilosa.OptFieldTypeInt(math.MinInt32, math.MaxInt32))
			continue
		}
		s.fields[name] = s.index.Field(name,
			gopilosa.OptFieldTypeSet(gopilosa.CacheTypeRanked, cfg.CacheSize),
			gopilosa.OptFieldKeys(true))
	}
	return s
}

// Add implements feindexer.DocumentStore. Each field is imported in turn.
func (s *Store) Add(ctx context.Context, docs []feindexer.Document) error {
	recs, err := s.records(docs)
	if err != nil {
		return err
	}
	for name, rs := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.client.ImportField(s.fields[name], &sliceIterator{recs: rs}, gopilosa.OptImportBatchSize(s.batchSize))
		if err != nil {
			return feindexer.Connectivity(errors.Wrapf(err, "importing field %s", name))
		}
	}
	return nil
}

// records groups the documents' values by field.
func (s *Store) records(docs []feindexer.Document) (map[string][]gopilosa.Record, error) {
	recs := make(map[string][]gopilosa.Record)
	for _, d := range docs {
		id, ok := d.ID(s.idField)
		if !ok {
			return nil, errors.Errorf("document has no %s", s.idField)
		}
		for name, val := range d {
			if name == s.idField {
				continue
			}
			if _, ok := s.fields[name]; !ok {
				return nil, errors.Errorf("field %s is not in index %s", name, s.index.Name())
			}
			vals, ok := val.([]interface{})
			if !ok {
				vals = []interface{}{val}
			}
			for _, v := range vals {
				if s.ints[name] {
					n, err := feindexer.Int64(v)
					if err != nil {
						return nil, errors.Wrapf(err, "field %s of %s", name, id)
					}
					recs[name] = append(recs[name], gopilosa.FieldValue{ColumnKey: id, Value: n})
					continue
				}
				key, ok := feindexer.KeyString(v)
				if !ok {
					continue
				}
				recs[name] = append(recs[name], gopilosa.Column{RowKey: key, ColumnKey: id})
			}
		}
	}
	return recs, nil
}

// DeleteAll implements feindexer.DocumentStore by dropping and recreating
// the index.
func (s *Store) DeleteAll(ctx context.Context) error {
	current, err := s.client.Schema()
	if err != nil {
		return feindexer.Connectivity(errors.Wrap(err, "getting schema"))
	}
	if old, ok := current.Indexes()[s.index.Name()]; ok {
		if err := s.client.DeleteIndex(old); err != nil {
			return feindexer.Connectivity(errors.Wrapf(err, "deleting index %s", s.index.Name()))
		}
		s.log.Printf("deleted index %s", s.index.Name())
	}
	if err := s.client.SyncSchema(s.schema); err != nil {
		return feindexer.Connectivity(errors.Wrap(err, "synchronizing schema"))
	}
	return nil
}

// Commit implements feindexer.DocumentStore. Imports are visible as soon as
// they return.
func (s *Store) Commit(ctx context.Context) error { return nil }

// Optimize implements feindexer.DocumentStore. Pilosa compacts on its own.
func (s *Store) Optimize(ctx context.Context) error { return nil }

// sliceIterator is a gopilosa.RecordIterator over a fixed set of records.
type sliceIterator struct {
	recs []gopilosa.Record
	i    int
}

func (it *sliceIterator) NextRecord() (gopilosa.Record, error) {
	if it.i >= len(it.recs) {
		return nil, io.EOF
	}
	r := it.recs[it.i]
	it.i++
	return r, nil
}
