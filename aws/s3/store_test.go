package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/linkedin/goavro"
	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/pkg/errors"
)

// fakeS3 keeps objects in memory. Calls it does not override panic.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := ioutil.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[*in.Key] = body
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(ctx aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error {
	f.mu.Lock()
	out := &s3.ListObjectsV2Output{}
	for _, k := range f.keys() {
		if strings.HasPrefix(k, *in.Prefix) {
			out.Contents = append(out.Contents, &s3.Object{Key: aws.String(k)})
		}
	}
	f.mu.Unlock()
	fn(out, true)
	return nil
}

func (f *fakeS3) DeleteObjectsWithContext(ctx aws.Context, in *s3.DeleteObjectsInput, opts ...request.Option) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range in.Delete.Objects {
		delete(f.objects, *o.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) keys() []string {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readPart(t *testing.T, body []byte) []map[string]interface{} {
	t.Helper()
	r, err := goavro.NewOCFReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("opening part: %v", err)
	}
	var recs []map[string]interface{}
	for r.Scan() {
		rec, err := r.Read()
		if err != nil {
			t.Fatalf("reading record: %v", err)
		}
		recs = append(recs, rec.(map[string]interface{}))
	}
	return recs
}

func TestStoreRun(t *testing.T) {
	svc := newFakeS3()
	svc.objects["idx/marker/part-000009.avro"] = []byte("stale")
	svc.objects["idx/other/part-000001.avro"] = []byte("keep")
	s, err := NewStoreWithClient(svc, Config{Bucket: "b", Prefix: "idx"}, "marker", "id", nil)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	ctx := context.Background()
	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("clearing: %v", err)
	}
	w := feindexer.NewBatchWriter(s, feindexer.WriterOptions{BatchSize: 2}, nil, nil)
	for i, sym := range []string{"Pax6", "Kit", "Shh"} {
		doc := feindexer.Document{"id": int64(i + 1), "symbol": sym, "synonyms": []interface{}{"s" + sym, int64(i)}}
		if err := w.Add(ctx, doc); err != nil {
			t.Fatalf("adding: %v", err)
		}
	}
	if err := w.CommitAndOptimize(ctx, true); err != nil {
		t.Fatalf("committing: %v", err)
	}

	exp := []string{
		"idx/marker/manifest.json",
		"idx/marker/part-000001.avro",
		"idx/marker/part-000002.avro",
		"idx/other/part-000001.avro",
	}
	if got := svc.keys(); strings.Join(got, ",") != strings.Join(exp, ",") {
		t.Fatalf("unexpected objects %v", got)
	}

	recs := readPart(t, svc.objects["idx/marker/part-000001.avro"])
	if len(recs) != 2 || recs[0]["id"] != "1" {
		t.Fatalf("unexpected records %v", recs)
	}
	fields := recs[1]["fields"].(map[string]interface{})
	if syn := fields["synonyms"].([]interface{}); len(syn) != 2 || syn[0] != "sKit" || syn[1] != "1" {
		t.Fatalf("unexpected synonyms %v", syn)
	}
	if sym := fields["symbol"].([]interface{}); sym[0] != "Kit" {
		t.Fatalf("unexpected symbol %v", sym)
	}

	var m Manifest
	if err := json.Unmarshal(svc.objects["idx/marker/manifest.json"], &m); err != nil {
		t.Fatalf("decoding manifest: %v", err)
	}
	if m.Documents != 3 || len(m.Parts) != 2 || m.Index != "marker" {
		t.Fatalf("unexpected manifest %+v", m)
	}
}

func TestStoreUploadFailure(t *testing.T) {
	svc := newFakeS3()
	svc.putErr = errors.New("connection refused")
	s, err := NewStoreWithClient(svc, Config{Bucket: "b"}, "marker", "id", nil)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	err = s.Add(context.Background(), []feindexer.Document{{"id": "1"}})
	if !feindexer.IsConnectivity(err) {
		t.Fatalf("expected a connectivity error, got %v", err)
	}
	if _, err := s.encode([]feindexer.Document{{"symbol": "x"}}); err == nil {
		t.Fatal("expected an error for a document without id")
	}
}

func TestStoreNeedsBucket(t *testing.T) {
	if _, err := NewStoreWithClient(newFakeS3(), Config{}, "marker", "id", nil); err == nil {
		t.Fatal("expected an error without a bucket")
	}
}
