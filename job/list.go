package job

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/boltdb"
	"github.com/mgijax/feindexer-sub001/usecase/mgi"
	"github.com/pkg/errors"
)

// ListMain prints the registered indexers.
type ListMain struct {
	Stdout io.Writer `flag:"-"`
}

// NewListMain gets a new ListMain writing to stdout.
func NewListMain() *ListMain {
	return &ListMain{Stdout: os.Stdout}
}

// Run prints one line per indexer.
func (m *ListMain) Run() error {
	reg, err := mgi.NewRegistry(mgi.Options{})
	if err != nil {
		return errors.Wrap(err, "registering indexers")
	}
	w := tabwriter.NewWriter(m.Stdout, 0, 8, 2, ' ', 0)
	for _, name := range reg.Names() {
		ix, err := reg.Get(name)
		if err != nil {
			return err
		}
		chunked := "single pass"
		if ix.Primary.ChunkSize > 0 {
			chunked = "chunked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ix.Name, ix.Index, chunked, ix.Description)
	}
	return w.Flush()
}

// HistoryMain prints the recorded runs of an indexer.
type HistoryMain struct {
	HistoryPath string `help:"Bolt database the runs were recorded in."`
	Limit       int    `help:"Number of runs to show, newest first. 0 shows all."`

	// Indexer is the indexer to show. Empty shows the indexers with history.
	Indexer string    `flag:"-"`
	Stdout  io.Writer `flag:"-"`
}

// NewHistoryMain gets a new HistoryMain with the default configuration.
func NewHistoryMain() *HistoryMain {
	return &HistoryMain{
		HistoryPath: "feindexer-history.db",
		Limit:       10,
		Stdout:      os.Stdout,
	}
}

// Run prints the runs.
func (m *HistoryMain) Run() error {
	if _, err := os.Stat(m.HistoryPath); err != nil {
		return errors.Wrap(err, "finding history")
	}
	h, err := boltdb.Open(m.HistoryPath)
	if err != nil {
		return err
	}
	defer h.Close()

	if m.Indexer == "" {
		names, err := h.Indexers()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(m.Stdout, n)
		}
		return nil
	}
	runs, err := h.List(m.Indexer, m.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return errors.Wrap(feindexer.ErrUnknownIndexer, m.Indexer)
	}
	w := tabwriter.NewWriter(m.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATE\tDOCS\tWRITTEN\tSKIPPED\tFAILED\tELAPSED\tERROR")
	for _, e := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%v\t%s\n",
			e.Seq, e.Started.Format(time.RFC3339), e.State, e.Documents, e.Written, e.Skipped, e.FailedDocs,
			e.Elapsed.Round(time.Millisecond), e.Error)
	}
	return w.Flush()
}
