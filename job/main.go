// Package job wires configuration into a feindexer run: the database, the
// destination store, logging, stats and run observers.
package job

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/aws/s3"
	"github.com/mgijax/feindexer-sub001/boltdb"
	"github.com/mgijax/feindexer-sub001/elastic"
	"github.com/mgijax/feindexer-sub001/kafka"
	"github.com/mgijax/feindexer-sub001/pilosa"
	"github.com/mgijax/feindexer-sub001/sqldb"
	"github.com/mgijax/feindexer-sub001/usecase/mgi"
	"github.com/pkg/errors"
)

// Store kinds.
const (
	StoreMemory  = "memory"
	StoreElastic = "elastic"
	StorePilosa  = "pilosa"
	StoreS3      = "s3"
)

// Main holds the configuration of one invocation of the indexers.
type Main struct {
	Driver       string        `help:"Database driver: postgres, pgx or mysql."`
	Database     string        `help:"Database connection string for the driver."`
	QueryTimeout time.Duration `help:"Timeout for each database statement, including streaming the rows of a query."`
	MaxConns     int           `help:"Maximum open database connections."`

	Store          string        `help:"Destination store: memory, elastic, pilosa or s3."`
	ElasticHosts   []string      `help:"Comma separated list of Elasticsearch URLs."`
	ElasticTimeout time.Duration `help:"Socket timeout for Elasticsearch requests."`
	PilosaHosts    []string      `help:"Comma separated list of Pilosa hosts and ports."`
	S3Bucket       string        `help:"S3 bucket for exported documents."`
	S3Prefix       string        `help:"Key prefix under which each index is written."`
	S3Region       string        `help:"AWS region to use."`

	BatchSize    int           `help:"Documents per bulk write."`
	Workers      int           `help:"Concurrent bulk writes. 0 writes inline."`
	Retries      int           `help:"Extra attempts for a failed bulk write."`
	Backoff      time.Duration `help:"Wait before the first retry, doubled for each one after."`
	MaxBackoff   time.Duration `help:"Longest wait between retries."`
	WriteTimeout time.Duration `help:"Timeout for each call to the store."`
	ChunkSize    int64         `help:"Primary keys read per chunk."`
	SpillDir     string        `help:"Keep large lookups in leveldb under this directory."`
	Optimize     bool          `help:"Compact each index after it is committed."`

	Verbose     bool     `help:"Log debug output."`
	LogPath     string   `help:"Log to this file instead of stderr."`
	StatsdAddr  string   `help:"Send stats to the dogstatsd agent at this address."`
	KafkaHosts  []string `help:"Kafka brokers to announce finished runs to."`
	KafkaTopic  string   `help:"Kafka topic for run announcements."`
	HistoryPath string   `help:"Record every run in the bolt database at this path."`

	Indexers []string  `flag:"-"`
	Stdout   io.Writer `flag:"-"`

	// Stores holds the documents written by the memory store, by index.
	Stores map[string]*feindexer.MemStore `flag:"-"`
}

// NewMain gets a new Main with the default configuration.
func NewMain() *Main {
	return &Main{
		Driver:         "postgres",
		QueryTimeout:   sqldb.DefaultQueryTimeout,
		MaxConns:       4,
		Store:          StoreElastic,
		ElasticHosts:   []string{"http://localhost:9200"},
		ElasticTimeout: 10 * time.Minute,
		PilosaHosts:    []string{"localhost:10101"},
		S3Prefix:       "feindexer",
		S3Region:       "us-east-1",
		BatchSize:      feindexer.DefaultBatchSize,
		Retries:        3,
		Backoff:        time.Second,
		MaxBackoff:     time.Minute,
		WriteTimeout:   5 * time.Minute,
		ChunkSize:      mgi.DefaultChunkSize,
		KafkaTopic:     "feindexer-runs",
		Indexers:       []string{feindexer.All},
		Stdout:         os.Stdout,
	}
}

// Run runs the configured indexers. It returns a *feindexer.FailedError if
// any of them failed.
func (m *Main) Run() error {
	ctx := context.Background()
	log, closeLog, err := m.logger()
	if err != nil {
		return err
	}
	defer closeLog()

	var stats feindexer.Statter = feindexer.NopStatter{}
	if m.StatsdAddr != "" {
		st, err := feindexer.NewStatsdStatter(m.StatsdAddr, "feindexer.")
		if err != nil {
			return err
		}
		defer st.Close()
		stats = st
	}

	reg, err := mgi.NewRegistry(mgi.Options{
		ChunkSize: m.ChunkSize,
		SpillDir:  m.SpillDir,
		Optimize:  m.Optimize,
	})
	if err != nil {
		return errors.Wrap(err, "registering indexers")
	}
	// check names before touching the database
	if _, err := reg.Resolve(m.Indexers); err != nil {
		return err
	}

	db, err := sqldb.Open(ctx, sqldb.Config{
		Driver:       m.Driver,
		DSN:          m.Database,
		QueryTimeout: m.QueryTimeout,
		MaxOpenConns: m.MaxConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	newStore, err := m.storeFactory(reg, log)
	if err != nil {
		return err
	}
	observers, closeObservers, err := m.observers()
	if err != nil {
		return err
	}
	defer closeObservers()

	d := &feindexer.Dispatcher{
		Registry: reg,
		NewSource: func(ctx context.Context) (feindexer.DataSource, error) {
			return db.Session(ctx)
		},
		NewStore: newStore,
		Writer: feindexer.WriterOptions{
			BatchSize:  m.BatchSize,
			Workers:    m.Workers,
			Retries:    m.Retries,
			Backoff:    m.Backoff,
			MaxBackoff: m.MaxBackoff,
			Timeout:    m.WriteTimeout,
		},
		Log:       log,
		Stats:     stats,
		Observers: observers,
	}
	start := time.Now()
	results, err := d.Run(ctx, m.Indexers)
	for _, res := range results {
		fmt.Fprintln(m.Stdout, res)
	}
	log.Printf("%d indexers done in %v", len(results), time.Since(start).Round(time.Millisecond))
	return err
}

func (m *Main) logger() (feindexer.Logger, func(), error) {
	if m.LogPath == "" {
		return feindexer.NewLogger(os.Stderr, m.Verbose), func() {}, nil
	}
	f, err := os.OpenFile(m.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening log file %s", m.LogPath)
	}
	return feindexer.NewLogger(f, m.Verbose), func() { f.Close() }, nil
}

// schemaOf returns the schema of the indexer writing to index.
func schemaOf(reg *feindexer.Registry, index string) (*feindexer.Schema, error) {
	for _, name := range reg.Names() {
		ix, err := reg.Get(name)
		if err != nil {
			return nil, err
		}
		if ix.Index == index && ix.Assembler.Schema != nil {
			return ix.Assembler.Schema, nil
		}
	}
	return nil, errors.Errorf("no schema for index %s", index)
}

func (m *Main) storeFactory(reg *feindexer.Registry, log feindexer.Logger) (func(ctx context.Context, index string) (feindexer.DocumentStore, error), error) {
	switch m.Store {
	case StoreMemory:
		if m.Stores == nil {
			m.Stores = make(map[string]*feindexer.MemStore)
		}
		return func(ctx context.Context, index string) (feindexer.DocumentStore, error) {
			schema, err := schemaOf(reg, index)
			if err != nil {
				return nil, err
			}
			st := feindexer.NewMemStore(schema.IDField)
			m.Stores[index] = st
			return st, nil
		}, nil
	case StoreElastic:
		return func(ctx context.Context, index string) (feindexer.DocumentStore, error) {
			schema, err := schemaOf(reg, index)
			if err != nil {
				return nil, err
			}
			// each store stops the client when its run ends
			client, err := elastic.NewClient(elastic.Config{
				URLs:          m.ElasticHosts,
				SocketTimeout: m.ElasticTimeout,
				MaxConns:      m.Workers + 1,
			})
			if err != nil {
				return nil, err
			}
			return elastic.NewStore(client, index, schema.IDField, log), nil
		}, nil
	case StorePilosa:
		return func(ctx context.Context, index string) (feindexer.DocumentStore, error) {
			schema, err := schemaOf(reg, index)
			if err != nil {
				return nil, err
			}
			return pilosa.NewStore(pilosa.Config{Hosts: m.PilosaHosts, BatchSize: m.BatchSize}, index, schema, log)
		}, nil
	case StoreS3:
		return func(ctx context.Context, index string) (feindexer.DocumentStore, error) {
			schema, err := schemaOf(reg, index)
			if err != nil {
				return nil, err
			}
			return s3.NewStore(s3.Config{Bucket: m.S3Bucket, Prefix: m.S3Prefix, Region: m.S3Region}, index, schema.IDField, log)
		}, nil
	}
	return nil, errors.Errorf("unknown store %q", m.Store)
}

func (m *Main) observers() ([]feindexer.Observer, func(), error) {
	var obs []feindexer.Observer
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if m.HistoryPath != "" {
		h, err := boltdb.Open(m.HistoryPath)
		if err != nil {
			return nil, nil, err
		}
		obs = append(obs, h)
		closers = append(closers, h.Close)
	}
	if len(m.KafkaHosts) > 0 {
		n, err := kafka.NewNotifier(m.KafkaHosts, m.KafkaTopic)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		obs = append(obs, n)
		closers = append(closers, n.Close)
	}
	return obs, closeAll, nil
}
