// Package feindexer rebuilds search indexes from a relational database. It
// contains the pipeline every indexer shares, and the sub-packages hold the
// data source, the document stores and the concrete indexers.
//
// Every run of an indexer is a full replacement of its destination index:
// the index is cleared, then rebuilt from scratch and committed. There are no
// incremental updates.
//
// 1. Cursor
//
//    The primary query of an indexer returns one row per document. Because
//    the primary table can be large, a Cursor reads it in chunks of the key
//    range, (start, stop], after finding the key bounds with a min/max
//    query. Only one chunk query is open at a time, and the last chunk always
//    includes the maximum key even when the range doesn't divide evenly.
//
// 2. Lookups
//
//    One-to-many side tables are loaded up front into Lookups, which map a
//    join key to the values sharing it. A lookup is built with one query and
//    never changes afterwards, so documents are joined by hash lookup rather
//    than by a query per row. Side tables which grow with the primary table
//    can be built per chunk, restricted to the chunk's key range, and lookups
//    can be composed from other lookups (e.g. marker to term to ancestor
//    terms). The leveldb package holds a lookup which lives on disk.
//
// 3. Assembler
//
//    The Assembler turns a primary row plus the built lookups into a
//    Document, through a list of FieldRules. Each rule states its own policy
//    for nulls, duplicates and collapsing several values into one. An
//    assembler never touches the data source.
//
// 4. BatchWriter
//
//    Documents are buffered and written to a DocumentStore in bulk. A failed
//    flush is retried with exponential backoff, and recorded if it still
//    fails; flushes can be handed to a bounded pool of workers so that
//    writing overlaps with reading the next chunk.
//
// 5. Controller
//
//    The Controller sequences one run: clear the destination, build lookups,
//    stream the cursor through the assembler into the writer, flush, commit
//    and optionally optimize. The Dispatcher runs a list of registered
//    indexers one after another and reports the ones which failed.
package feindexer
