// Package boltdb keeps a history of indexer runs in a bolt database.
package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/pkg/errors"
)

var runBucket = []byte("runs")

var _ feindexer.Observer = &History{}

// Entry is the stored form of a feindexer.RunResult.
type Entry struct {
	Seq           uint64        `json:"seq"`
	Indexer       string        `json:"indexer"`
	Index         string        `json:"index"`
	State         string        `json:"state"`
	Rows          int           `json:"rows"`
	Documents     int           `json:"documents"`
	Written       int           `json:"written"`
	Skipped       int           `json:"skipped"`
	Chunks        int           `json:"chunks"`
	Batches       int           `json:"batches"`
	WriteFailures int           `json:"write_failures"`
	FailedDocs    int           `json:"failed_docs"`
	Error         string        `json:"error,omitempty"`
	Started       time.Time     `json:"started"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Failed reports whether the recorded run failed.
func (e Entry) Failed() bool {
	return e.Error != "" || e.WriteFailures > 0
}

// History is a feindexer.Observer which records every run, keyed by indexer
// name and run sequence.
type History struct {
	Db *bolt.DB
}

// Open opens or creates the history database at filename.
func Open(filename string) (*History, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runBucket)
		return errors.Wrap(err, "creating runs bucket")
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return &History{Db: db}, nil
}

// Close syncs and closes the database.
func (h *History) Close() error {
	err := h.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return h.Db.Close()
}

// Observe implements feindexer.Observer.
func (h *History) Observe(ctx context.Context, res *feindexer.RunResult) error {
	e := Entry{
		Indexer:       res.Indexer,
		Index:         res.Index,
		State:         res.State.String(),
		Rows:          res.Rows,
		Documents:     res.Documents,
		Written:       res.Written,
		Skipped:       res.Skipped,
		Chunks:        res.Chunks,
		Batches:       res.Batches,
		WriteFailures: res.WriteFailures,
		FailedDocs:    res.FailedDocs,
		Started:       res.Started,
		Elapsed:       res.Elapsed,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	return h.Db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(runBucket).CreateBucketIfNotExists([]byte(res.Indexer))
		if err != nil {
			return errors.Wrapf(err, "adding %s to runs bucket", res.Indexer)
		}
		e.Seq, err = b.NextSequence()
		if err != nil {
			return errors.Wrap(err, "getting next sequence")
		}
		data, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "encoding run")
		}
		return b.Put(seqKey(e.Seq), data)
	})
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Indexers returns the names of all indexers with recorded runs.
func (h *History) Indexers() ([]string, error) {
	var names []string
	err := h.Db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runBucket).ForEach(func(k, v []byte) error {
			if v == nil {
				names = append(names, string(k))
			}
			return nil
		})
	})
	return names, errors.Wrap(err, "listing indexers")
}

// List returns up to limit runs of indexer, newest first. A limit of 0
// returns every run.
func (h *History) List(indexer string, limit int) ([]Entry, error) {
	var entries []Entry
	err := h.Db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runBucket).Bucket([]byte(indexer))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return errors.Wrapf(err, "decoding run %d of %s", binary.BigEndian.Uint64(k), indexer)
			}
			entries = append(entries, e)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	return entries, err
}
