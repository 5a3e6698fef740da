package feindexer

import (
	"github.com/pkg/errors"
)

// Indexer describes one full rebuild of a destination index. It is plain
// configuration; everything a run creates belongs to that run's Controller.
type Indexer struct {
	Name        string
	Description string

	// Index names the destination, e.g. an Elasticsearch index or a Pilosa
	// index.
	Index string

	// Prepare runs before any lookup is built, typically to create working
	// tables.
	Prepare []Step
	Lookups []LookupSpec
	Primary PrimaryQuery

	Assembler *Assembler

	// BatchSize overrides the writer's batch size when set.
	BatchSize int
	Optimize  bool
}

// Validate checks that the indexer is complete and that its lookups can be
// ordered.
func (ix *Indexer) Validate() error {
	if ix.Name == "" {
		return errors.New("indexer has no name")
	}
	if ix.Index == "" {
		return errors.Errorf("indexer %s has no destination index", ix.Name)
	}
	if ix.Primary.Query == "" {
		return errors.Errorf("indexer %s has no primary query", ix.Name)
	}
	if ix.Primary.ChunkSize > 0 && ix.Primary.BoundsQuery == "" {
		return errors.Errorf("indexer %s is chunked but has no bounds query", ix.Name)
	}
	if ix.Assembler == nil {
		return errors.Errorf("indexer %s has no assembler", ix.Name)
	}
	ordered, err := orderLookups(ix.Lookups)
	if err != nil {
		return errors.Wrapf(err, "indexer %s", ix.Name)
	}
	if ix.Primary.ChunkSize <= 0 {
		for name := range chunkedLookups(ordered) {
			return errors.Errorf("indexer %s: lookup %s is per chunk but the primary query isn't chunked", ix.Name, name)
		}
	}
	return nil
}
