// Package mgi defines the indexers for the mouse genome database: markers,
// references and strains. Each indexer is plain configuration over the
// feindexer pipeline.
//
// Queries are written with ? placeholders; the data source rebinds them for
// the driver in use.
package mgi

import (
	"strconv"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/geohash"
	"github.com/mgijax/feindexer-sub001/leveldb"
	"github.com/pkg/errors"
)

// DefaultChunkSize is the number of primary keys read per chunk.
const DefaultChunkSize = 50000

// Options tune the indexers without changing what they produce.
type Options struct {
	ChunkSize int64
	BatchSize int

	// SpillDir, if set, keeps the marker synonym lookup in a leveldb
	// database under this directory instead of in memory.
	SpillDir string

	// Optimize compacts the destination after each run.
	Optimize bool
}

func (o Options) chunkSize() int64 {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

// Register adds every MGI indexer to r.
func Register(r *feindexer.Registry, opts Options) error {
	for _, ix := range []*feindexer.Indexer{Marker(opts), Reference(opts), Strain(opts)} {
		if err := r.Register(ix); err != nil {
			return errors.Wrapf(err, "registering %s", ix.Name)
		}
	}
	return nil
}

// NewRegistry returns a registry holding every MGI indexer.
func NewRegistry(opts Options) (*feindexer.Registry, error) {
	r := feindexer.NewRegistry()
	return r, Register(r, opts)
}

// providers maps raw sequence provider labels to the label shown in search.
var providers = map[string]string{
	"Ensembl Gene Model":        "Ensembl",
	"Ensembl Transcript":        "Ensembl",
	"Ensembl Protein":           "Ensembl",
	"NCBI Gene Model":           "NCBI",
	"NCBI Gene Model Evidence":  "NCBI",
	"RefSeq":                    "NCBI",
	"GenBank":                   "GenBank",
	"VEGA Gene Model":           "VEGA",
	"VEGA Transcript":           "VEGA",
	"SWISS-PROT":                "UniProt",
	"TrEMBL":                    "UniProt",
}

// MarkerReference is a curated citation of a marker.
type MarkerReference struct {
	JNumID   string
	Citation string
	Review   bool
}

// newReference builds a MarkerReference from a marker reference row.
func newReference(row feindexer.Row) (MarkerReference, error) {
	id, ok := feindexer.KeyString(row["jnumid"])
	if !ok {
		return MarkerReference{}, errors.New("reference without J number")
	}
	ref := MarkerReference{JNumID: id}
	if c, ok := feindexer.KeyString(row["short_citation"]); ok {
		ref.Citation = c
	}
	if r, ok := feindexer.KeyString(row["isreviewarticle"]); ok {
		review, err := strconv.ParseBool(r)
		if err != nil {
			return MarkerReference{}, errors.Wrapf(err, "review flag of %s", id)
		}
		ref.Review = review
	}
	return ref, nil
}

// MarkerSchema declares the fields of a marker document.
func MarkerSchema() *feindexer.Schema {
	return feindexer.NewSchema("markerKey").
		Required("symbol", "markerType").
		Single("name", "chromosome", "mgiId", "provider").
		Int("sortKey", "sortRank").
		Multi("synonym", "goTermKey", "reference", "reviewReference")
}

// Marker indexes genes and other genome features. Markers are read in
// chunks; side tables which grow with the marker count are built per chunk
// and GO annotations are expanded to every ancestor term through a
// transitive closure of the term DAG.
func Marker(opts Options) *feindexer.Indexer {
	var synonyms feindexer.LookupSpec = feindexer.SQLLookup{
		Query: feindexer.LookupQuery{
			Name:        "synonyms",
			Query:       "select _object_key, synonym from mgi_synonym where _mgitype_key = 2 and _object_key > ? and _object_key <= ?",
			KeyColumn:   "_object_key",
			ValueColumn: "synonym",
		},
		Chunked: true,
	}
	if opts.SpillDir != "" {
		synonyms = leveldb.SpillLookup{
			Query:   synonyms.(feindexer.SQLLookup).Query,
			Chunked: true,
			Dir:     opts.SpillDir,
		}
	}
	return &feindexer.Indexer{
		Name:        "marker",
		Description: "Genome features with synonyms, GO terms and references",
		Index:       "marker",
		Prepare: []feindexer.Step{
			feindexer.ClosureStep{Spec: feindexer.ClosureSpec{
				Table:     "tmp_go_closure",
				Edges:     "select _parent_key, _child_key from dag_edge where _dag_key = 1",
				Parent:    "_parent_key",
				Child:     "_child_key",
				Reflexive: true,
				Indexed:   true,
			}},
		},
		Lookups: []feindexer.LookupSpec{
			feindexer.SQLLookup{Query: feindexer.LookupQuery{
				Name:        "go_ancestors",
				Query:       "select descendant, ancestor from tmp_go_closure",
				KeyColumn:   "descendant",
				ValueColumn: "ancestor",
				Intern:      true,
			}},
			feindexer.SQLLookup{
				Query: feindexer.LookupQuery{
					Name:        "go_annotations",
					Query:       "select _object_key, _term_key from voc_annot where _annottype_key = 1000 and _object_key > ? and _object_key <= ?",
					KeyColumn:   "_object_key",
					ValueColumn: "_term_key",
				},
				Chunked: true,
			},
			feindexer.ComposedLookup{As: "go_terms", From: "go_annotations", Via: "go_ancestors"},
			synonyms,
			feindexer.SQLLookup{
				Query: feindexer.LookupQuery{
					Name:        "providers",
					Query:       "select _marker_key, provider from seq_marker_cache where _marker_key > ? and _marker_key <= ? order by _sequence_key",
					KeyColumn:   "_marker_key",
					ValueColumn: "provider",
					Intern:      true,
				},
				Chunked: true,
			},
			feindexer.SQLLookup{Query: feindexer.LookupQuery{
				Name:        "symbol_rank",
				Query:       "select _marker_key, sequencenum from mrk_sort",
				KeyColumn:   "_marker_key",
				ValueColumn: "sequencenum",
			}},
			feindexer.ValueLookup[MarkerReference]{
				Query: feindexer.LookupQuery{
					Name:      "references",
					Query:     "select _marker_key, jnumid, short_citation, isreviewarticle from mrk_reference where _marker_key > ? and _marker_key <= ? order by jnumid",
					KeyColumn: "_marker_key",
				},
				Chunked: true,
				Factory: newReference,
			},
		},
		Primary: feindexer.PrimaryQuery{
			BoundsQuery: "select min(_marker_key), max(_marker_key) from mrk_marker",
			Query:       "select _marker_key, symbol, name, chromosome, mgiid, markertype from mrk_marker where _marker_key > ? and _marker_key <= ? order by _marker_key",
			ChunkSize:   opts.chunkSize(),
			KeyColumn:   "_marker_key",
		},
		Assembler: &feindexer.Assembler{
			Rules: []feindexer.FieldRule{
				feindexer.Copy{Column: "_marker_key", Field: "markerKey", Required: true},
				feindexer.Copy{Column: "symbol", Required: true},
				feindexer.Copy{Column: "name"},
				feindexer.Copy{Column: "chromosome", Default: "UN"},
				feindexer.Copy{Column: "markertype", Field: "markerType", Required: true},
				feindexer.Copy{Column: "mgiid", Field: "mgiId"},
				feindexer.Normalize("mgiid", "sortKey", feindexer.NumericSortKey("MGI:")),
				feindexer.Multi{Lookup: "synonyms", Join: "_marker_key", Field: "synonym", Dedup: true},
				feindexer.Multi{Lookup: "go_terms", Join: "_marker_key", Field: "goTermKey"},
				feindexer.Single{
					Lookup:    "providers",
					Join:      "_marker_key",
					Field:     "provider",
					Collapse:  feindexer.CollapseFirst,
					Normalize: feindexer.CanonicalLabel(providers, ""),
				},
				feindexer.Rank{Lookup: "symbol_rank", Join: "_marker_key", Field: "sortRank"},
				feindexer.Objects[MarkerReference]{Lookup: "references", Join: "_marker_key", Emit: emitReferences},
			},
			Schema: MarkerSchema(),
		},
		BatchSize: opts.BatchSize,
		Optimize:  opts.Optimize,
	}
}

func emitReferences(doc feindexer.Document, refs []MarkerReference) error {
	for _, r := range refs {
		doc.AddUnique("reference", r.JNumID)
		if r.Review {
			doc.AddUnique("reviewReference", r.JNumID)
		}
	}
	return nil
}

// ReferenceSchema declares the fields of a reference document.
func ReferenceSchema() *feindexer.Schema {
	return feindexer.NewSchema("refsKey").
		Required("jnumId", "title").
		Single("journal", "authors", "firstAuthor", "pubmedId", "jnumSort").
		Int("year").
		Multi("symbol")
}

// Reference indexes the literature in a single pass. Its side tables are
// small enough to build once for the whole run.
func Reference(opts Options) *feindexer.Indexer {
	return &feindexer.Indexer{
		Name:        "reference",
		Description: "Literature citations with authors and associated symbols",
		Index:       "reference",
		Lookups: []feindexer.LookupSpec{
			feindexer.SQLLookup{Query: feindexer.LookupQuery{
				Name:        "authors",
				Query:       "select _refs_key, author from bib_author order by _refs_key, sequencenum",
				KeyColumn:   "_refs_key",
				ValueColumn: "author",
				Intern:      true,
			}},
			feindexer.SQLLookup{Query: feindexer.LookupQuery{
				Name:        "pubmed",
				Query:       "select _object_key, accid from acc_accession where _mgitype_key = 1 and _logicaldb_key = 29",
				KeyColumn:   "_object_key",
				ValueColumn: "accid",
			}},
			feindexer.SQLLookup{Query: feindexer.LookupQuery{
				Name:        "marker_symbols",
				Query:       "select r._refs_key, m.symbol from mrk_reference r join mrk_marker m on m._marker_key = r._marker_key",
				KeyColumn:   "_refs_key",
				ValueColumn: "symbol",
				Intern:      true,
			}},
			feindexer.SQLLookup{Query: feindexer.LookupQuery{
				Name:        "allele_symbols",
				Query:       "select _refs_key, symbol from all_reference",
				KeyColumn:   "_refs_key",
				ValueColumn: "symbol",
				Intern:      true,
			}},
		},
		Primary: feindexer.PrimaryQuery{
			Query:     "select _refs_key, jnumid, title, journal, year from bib_refs order by _refs_key",
			KeyColumn: "_refs_key",
		},
		Assembler: &feindexer.Assembler{
			Rules: []feindexer.FieldRule{
				feindexer.Copy{Column: "_refs_key", Field: "refsKey", Required: true},
				feindexer.Copy{Column: "jnumid", Field: "jnumId", Required: true},
				feindexer.Normalize("jnumid", "jnumSort", feindexer.NumericSortKey("J:")),
				feindexer.Copy{Column: "title", Required: true},
				feindexer.Copy{Column: "journal"},
				feindexer.Copy{Column: "year"},
				feindexer.Single{Lookup: "authors", Join: "_refs_key", Field: "authors", Collapse: feindexer.CollapseJoin, Sep: "; "},
				feindexer.Single{Lookup: "authors", Join: "_refs_key", Field: "firstAuthor", Collapse: feindexer.CollapseFirst},
				feindexer.Single{Lookup: "pubmed", Join: "_refs_key", Field: "pubmedId", Collapse: feindexer.CollapseMax},
				feindexer.Union{Lookups: []string{"marker_symbols", "allele_symbols"}, Join: "_refs_key", Field: "symbol"},
			},
			Schema: ReferenceSchema(),
		},
		BatchSize: opts.BatchSize,
		Optimize:  opts.Optimize,
	}
}

// StrainSchema declares the fields of a strain document.
func StrainSchema() *feindexer.Schema {
	return feindexer.NewSchema("strainKey").
		Required("strain").
		Single("repository", "geohash").
		Multi("synonym")
}

// Strain indexes mouse strains with the location of the repository which
// distributes them.
func Strain(opts Options) *feindexer.Indexer {
	return &feindexer.Indexer{
		Name:        "strain",
		Description: "Mouse strains and their repositories",
		Index:       "strain",
		Lookups: []feindexer.LookupSpec{
			feindexer.SQLLookup{Query: feindexer.LookupQuery{
				Name:        "strain_synonyms",
				Query:       "select _object_key, synonym from mgi_synonym where _mgitype_key = 10",
				KeyColumn:   "_object_key",
				ValueColumn: "synonym",
			}},
		},
		Primary: feindexer.PrimaryQuery{
			Query:     "select s._strain_key, s.strain, r.name as repository, r.latitude, r.longitude from prb_strain s left join strain_repository r on r._repository_key = s._repository_key order by s._strain_key",
			KeyColumn: "_strain_key",
		},
		Assembler: &feindexer.Assembler{
			Rules: []feindexer.FieldRule{
				feindexer.Copy{Column: "_strain_key", Field: "strainKey", Required: true},
				feindexer.Copy{Column: "strain", Required: true},
				feindexer.Copy{Column: "repository"},
				geohash.Rule{Precision: 6, Lat: "latitude", Lon: "longitude", Field: "geohash"},
				feindexer.Multi{Lookup: "strain_synonyms", Join: "_strain_key", Field: "synonym"},
			},
			Schema: StrainSchema(),
		},
		BatchSize: opts.BatchSize,
		Optimize:  opts.Optimize,
	}
}
