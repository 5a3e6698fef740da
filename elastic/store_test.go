package elastic_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/elastic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster answers the handful of Elasticsearch endpoints the store uses
// and keeps the indexed documents in memory.
type fakeCluster struct {
	mu      sync.Mutex
	exists  bool
	docs    map[string]map[string]interface{}
	reject  map[string]bool
	calls   []string
	created bool
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/marker":
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/marker":
		f.exists, f.created = true, true
		fmt.Fprint(w, `{"acknowledged":true,"shards_acknowledged":true,"index":"marker"}`)
	case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
		n := len(f.docs)
		f.docs = make(map[string]map[string]interface{})
		fmt.Fprintf(w, `{"took":1,"deleted":%d,"total":%d,"failures":[]}`, n, n)
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		f.bulk(w, r)
	case strings.HasSuffix(r.URL.Path, "/_refresh"), strings.HasSuffix(r.URL.Path, "/_forcemerge"):
		fmt.Fprint(w, `{"_shards":{"total":1,"successful":1,"failed":0}}`)
	default:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":{"type":"unexpected","reason":"%s %s"},"status":400}`, r.Method, r.URL.Path)
	}
}

func (f *fakeCluster) bulk(w http.ResponseWriter, r *http.Request) {
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	var items []string
	hasErrors := false
	for sc.Scan() {
		var action map[string]map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &action); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !sc.Scan() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		id := fmt.Sprint(action["index"]["_id"])
		if f.reject[id] {
			hasErrors = true
			items = append(items, fmt.Sprintf(`{"index":{"_index":"marker","_id":%q,"status":400,"error":{"type":"mapper_parsing_exception","reason":"bad %s"}}}`, id, id))
			continue
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.docs[id] = doc
		items = append(items, fmt.Sprintf(`{"index":{"_index":"marker","_id":%q,"status":201}}`, id))
	}
	fmt.Fprintf(w, `{"took":1,"errors":%v,"items":[%s]}`, hasErrors, strings.Join(items, ","))
}

func newStore(t *testing.T, f *fakeCluster) *elastic.Store {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	client, err := elastic.NewClient(elastic.Config{URLs: []string{srv.URL}})
	require.NoError(t, err)
	s := elastic.NewStore(client, "marker", "id", nil)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRun(t *testing.T) {
	f := &fakeCluster{exists: true, docs: map[string]map[string]interface{}{"stale": {"id": "stale"}}}
	s := newStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.DeleteAll(ctx))
	require.NoError(t, s.Add(ctx, []feindexer.Document{
		{"id": int64(1), "symbol": "Pax6", "synonym": []interface{}{"a", "b"}},
		{"id": int64(2), "symbol": "Kit"},
	}))
	require.NoError(t, s.Add(ctx, nil))
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Optimize(ctx))

	assert.Len(t, f.docs, 2)
	assert.Equal(t, "Pax6", f.docs["1"]["symbol"])
	assert.Equal(t, []interface{}{"a", "b"}, f.docs["1"]["synonym"])
	assert.Equal(t, []string{
		"HEAD /marker",
		"POST /marker/_delete_by_query",
		"POST /marker/_bulk",
		"POST /marker/_refresh",
		"POST /marker/_forcemerge",
	}, f.calls)
}

func TestStoreCreatesIndex(t *testing.T) {
	f := &fakeCluster{docs: map[string]map[string]interface{}{}}
	s := newStore(t, f)
	require.NoError(t, s.DeleteAll(context.Background()))
	assert.True(t, f.created)
}

func TestStoreRejectedDocuments(t *testing.T) {
	f := &fakeCluster{exists: true, docs: map[string]map[string]interface{}{}, reject: map[string]bool{"2": true}}
	s := newStore(t, f)
	err := s.Add(context.Background(), []feindexer.Document{{"id": "1"}, {"id": "2"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 documents rejected")
}

func TestStoreMissingID(t *testing.T) {
	f := &fakeCluster{exists: true, docs: map[string]map[string]interface{}{}}
	s := newStore(t, f)
	assert.Error(t, s.Add(context.Background(), []feindexer.Document{{"symbol": "Pax6"}}))
	assert.Empty(t, f.calls)
}

func TestStoreUnreachable(t *testing.T) {
	client, err := elastic.NewClient(elastic.Config{URLs: []string{"http://127.0.0.1:1"}})
	require.NoError(t, err)
	s := elastic.NewStore(client, "marker", "id", nil)
	defer s.Close()
	err = s.DeleteAll(context.Background())
	require.Error(t, err)
	assert.True(t, feindexer.IsConnectivity(err))
}
