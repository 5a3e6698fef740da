// Package elastic writes indexer documents to Elasticsearch.
package elastic

import (
	"context"
	"net/http"
	"strings"
	"time"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/olivere/elastic/v7"
	"github.com/pkg/errors"
)

// Config holds the connection settings for a cluster.
type Config struct {
	URLs []string

	// SocketTimeout bounds every HTTP round trip to the cluster.
	SocketTimeout time.Duration
	MaxConns      int
}

// Store is a feindexer.DocumentStore for one Elasticsearch index.
type Store struct {
	client  *elastic.Client
	index   string
	idField string
	log     feindexer.Logger
}

// NewClient connects to the cluster. Sniffing and health checks are off so
// that clusters behind a proxy work.
func NewClient(cfg Config) (*elastic.Client, error) {
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = 10 * time.Minute
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 8
	}
	hc := &http.Client{
		Timeout: cfg.SocketTimeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: cfg.MaxConns,
			MaxConnsPerHost:     cfg.MaxConns,
		},
	}
	client, err := elastic.NewClient(
		elastic.SetURL(cfg.URLs...),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
		elastic.SetHttpClient(hc),
	)
	if err != nil {
		return nil, feindexer.Connectivity(errors.Wrapf(err, "connecting to %s", strings.Join(cfg.URLs, ",")))
	}
	return client, nil
}

// NewStore returns a Store writing to index, keying documents by idField.
func NewStore(client *elastic.Client, index, idField string, log feindexer.Logger) *Store {
	if log == nil {
		log = feindexer.NopLogger{}
	}
	return &Store{client: client, index: index, idField: idField, log: log}
}

// Add implements feindexer.DocumentStore.
func (s *Store) Add(ctx context.Context, docs []feindexer.Document) error {
	if len(docs) == 0 {
		return nil
	}
	bulk := s.client.Bulk().Index(s.index)
	for _, d := range docs {
		id, ok := d.ID(s.idField)
		if !ok {
			return errors.Errorf("document has no %s", s.idField)
		}
		bulk.Add(elastic.NewBulkIndexRequest().Id(id).Doc(d))
	}
	resp, err := bulk.Do(ctx)
	if err != nil {
		return feindexer.Connectivity(errors.Wrapf(err, "bulk indexing %d documents", len(docs)))
	}
	if resp.Errors {
		failed := resp.Failed()
		if len(failed) > 0 {
			first := failed[0]
			reason := ""
			if first.Error != nil {
				reason = first.Error.Reason
			}
			return errors.Errorf("%d of %d documents rejected, first %s: %s", len(failed), len(docs), first.Id, reason)
		}
	}
	return nil
}

// DeleteAll implements feindexer.DocumentStore. A missing index is created.
func (s *Store) DeleteAll(ctx context.Context) error {
	exists, err := s.client.IndexExists(s.index).Do(ctx)
	if err != nil {
		return feindexer.Connectivity(errors.Wrapf(err, "checking index %s", s.index))
	}
	if !exists {
		if _, err := s.client.CreateIndex(s.index).Do(ctx); err != nil {
			return errors.Wrapf(err, "creating index %s", s.index)
		}
		s.log.Printf("created index %s", s.index)
		return nil
	}
	resp, err := s.client.DeleteByQuery(s.index).
		Query(elastic.NewMatchAllQuery()).
		Conflicts("proceed").
		Refresh("true").
		Do(ctx)
	if err != nil {
		return feindexer.Connectivity(errors.Wrapf(err, "deleting from %s", s.index))
	}
	s.log.Printf("deleted %d documents from %s", resp.Deleted, s.index)
	return nil
}

// Commit implements feindexer.DocumentStore by refreshing the index.
func (s *Store) Commit(ctx context.Context) error {
	_, err := s.client.Refresh(s.index).Do(ctx)
	return feindexer.Connectivity(errors.Wrapf(err, "refreshing %s", s.index))
}

// Optimize implements feindexer.DocumentStore by merging the index down to
// one segment, which also drops deleted documents.
func (s *Store) Optimize(ctx context.Context) error {
	_, err := s.client.Forcemerge(s.index).MaxNumSegments(1).Do(ctx)
	return feindexer.Connectivity(errors.Wrapf(err, "force merging %s", s.index))
}

// Close stops the client's background work.
func (s *Store) Close() error {
	s.client.Stop()
	return nil
}
