package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/mgijax/feindexer-sub001/job"
	"github.com/spf13/cobra"
)

// HistoryMain is wrapped by NewHistoryCommand and only exported for testing
// purposes.
var HistoryMain *job.HistoryMain

// NewHistoryCommand returns a command printing recorded runs.
func NewHistoryCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	HistoryMain = job.NewHistoryMain()
	HistoryMain.Stdout = stdout
	com := &cobra.Command{
		Use:   "history [indexer]",
		Short: "history - show recorded runs of an indexer",
		Long: `
Without an indexer, prints the indexers which have recorded runs. Runs
are recorded when "run" is given --history-path.
`[1:],
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				HistoryMain.Indexer = args[0]
			}
			return HistoryMain.Run()
		},
	}
	if err := commandeer.Flags(com.Flags(), HistoryMain); err != nil {
		panic(err)
	}
	return com
}

func init() {
	subcommandFns["history"] = NewHistoryCommand
}
