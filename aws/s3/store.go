// Package s3 writes indexer documents to an S3 bucket as Avro object
// container files, one object per batch, plus a manifest written on commit.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/linkedin/goavro"
	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/pkg/errors"
)

// DocumentSchema is the Avro schema of every record written. Field values
// are stored as lists of strings keyed by field name.
const DocumentSchema = `{
  "type": "record",
  "name": "Document",
  "namespace": "org.informatics.feindexer",
  "fields": [
    {"name": "id", "type": "string"},
    {"name": "fields", "type": {"type": "map", "values": {"type": "array", "items": "string"}}}
  ]
}`

// ManifestName is the object written under the index prefix on commit.
const ManifestName = "manifest.json"

// Config names the bucket documents are written to.
type Config struct {
	Bucket string
	Prefix string
	Region string

	// Compression is an Avro codec name: null, deflate or snappy.
	Compression string
}

// Manifest lists the parts of a committed index.
type Manifest struct {
	Index     string    `json:"index"`
	Documents int       `json:"documents"`
	Parts     []string  `json:"parts"`
	Committed time.Time `json:"committed"`
}

// Store is a feindexer.DocumentStore which uploads each batch to
// <prefix>/<index>/part-NNNNNN.avro.
type Store struct {
	svc     s3iface.S3API
	cfg     Config
	index   string
	idField string
	codec   *goavro.Codec
	parts   *feindexer.Nexter
	log     feindexer.Logger

	mu    sync.Mutex
	keys  []string
	count int
}

// NewStore opens an AWS session in cfg.Region and returns a Store for
// index.
func NewStore(cfg Config, index, idField string, log feindexer.Logger) (*Store, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region)},
	)
	if err != nil {
		return nil, feindexer.Connectivity(errors.Wrap(err, "getting aws session"))
	}
	return NewStoreWithClient(s3.New(sess), cfg, index, idField, log)
}

// NewStoreWithClient returns a Store using svc.
func NewStoreWithClient(svc s3iface.S3API, cfg Config, index, idField string, log feindexer.Logger) (*Store, error) {
	if log == nil {
		log = feindexer.NopLogger{}
	}
	if cfg.Bucket == "" {
		return nil, errors.New("no bucket configured")
	}
	codec, err := goavro.NewCodec(DocumentSchema)
	if err != nil {
		return nil, errors.Wrap(err, "compiling document schema")
	}
	return &Store{
		svc:     svc,
		cfg:     cfg,
		index:   index,
		idField: idField,
		codec:   codec,
		parts:   feindexer.NewNexter(feindexer.NexterStartFrom(1)),
		log:     log,
	}, nil
}

func (s *Store) dir() string {
	if s.cfg.Prefix == "" {
		return s.index + "/"
	}
	return s.cfg.Prefix + "/" + s.index + "/"
}

// Key returns the object key of the named object of the index.
func (s *Store) Key(name string) string { return s.dir() + name }

// Add implements feindexer.DocumentStore.
func (s *Store) Add(ctx context.Context, docs []feindexer.Document) error {
	body, err := s.encode(docs)
	if err != nil {
		return err
	}
	key := s.Key(fmt.Sprintf("part-%06d.avro", s.parts.Next()))
	_, err = s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("avro/binary"),
	})
	if err != nil {
		return feindexer.Connectivity(errors.Wrapf(err, "uploading %s", key))
	}
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.count += len(docs)
	s.mu.Unlock()
	return nil
}

func (s *Store) encode(docs []feindexer.Document) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               buf,
		Codec:           s.codec,
		CompressionName: s.cfg.Compression,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating avro writer")
	}
	recs := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		rec, err := s.record(d)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := w.Append(recs); err != nil {
		return nil, errors.Wrap(err, "encoding documents")
	}
	return buf.Bytes(), nil
}

func (s *Store) record(d feindexer.Document) (map[string]interface{}, error) {
	id, ok := d.ID(s.idField)
	if !ok {
		return nil, errors.Errorf("document has no %s", s.idField)
	}
	fields := make(map[string]interface{}, len(d))
	for _, name := range d.Fields() {
		if name == s.idField {
			continue
		}
		vals, ok := d[name].([]interface{})
		if !ok {
			vals = []interface{}{d[name]}
		}
		var strs []interface{}
		for _, v := range vals {
			if str, ok := feindexer.KeyString(v); ok {
				strs = append(strs, str)
			}
		}
		if len(strs) > 0 {
			fields[name] = strs
		}
	}
	return map[string]interface{}{"id": id, "fields": fields}, nil
}

// DeleteAll implements feindexer.DocumentStore by removing every object
// under the index prefix.
func (s *Store) DeleteAll(ctx context.Context) error {
	var keys []*s3.ObjectIdentifier
	err := s.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.dir()),
	}, func(out *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range out.Contents {
			keys = append(keys, &s3.ObjectIdentifier{Key: obj.Key})
		}
		return true
	})
	if err != nil {
		return feindexer.Connectivity(errors.Wrapf(err, "listing %s", s.dir()))
	}
	// DeleteObjects takes at most 1000 keys
	for len(keys) > 0 {
		n := len(keys)
		if n > 1000 {
			n = 1000
		}
		_, err := s.svc.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.cfg.Bucket),
			Delete: &s3.Delete{Objects: keys[:n], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return feindexer.Connectivity(errors.Wrapf(err, "deleting objects under %s", s.dir()))
		}
		keys = keys[n:]
	}
	s.mu.Lock()
	s.keys, s.count = nil, 0
	s.mu.Unlock()
	s.parts.Reset(1)
	return nil
}

// Commit implements feindexer.DocumentStore by writing the manifest.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	m := Manifest{
		Index:     s.index,
		Documents: s.count,
		Parts:     append([]string(nil), s.keys...),
		Committed: time.Now().UTC(),
	}
	s.mu.Unlock()
	sort.Strings(m.Parts)
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding manifest")
	}
	key := s.Key(ManifestName)
	_, err = s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return feindexer.Connectivity(errors.Wrapf(err, "uploading %s", key))
	}
	s.log.Printf("wrote %s: %d documents in %d parts", key, m.Documents, len(m.Parts))
	return nil
}

// Optimize implements feindexer.DocumentStore. Parts are never merged.
func (s *Store) Optimize(ctx context.Context) error { return nil }
