package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/mgijax/feindexer-sub001/job"
	"github.com/spf13/cobra"
)

// RunMain is wrapped by NewRunCommand and only exported for testing purposes.
var RunMain *job.Main

// NewRunCommand returns a new cobra command wrapping RunMain.
func NewRunCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	RunMain = job.NewMain()
	RunMain.Stdout = stdout
	runCommand := &cobra.Command{
		Use:   "run <indexer>... | all",
		Short: "run - clear and rebuild the named indexes",
		Long: `
Runs each named indexer in turn, or every indexer for "all". A failed
indexer does not stop the ones after it; the command exits with status
2 and prints the names of the failed indexers.
`[1:],
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			RunMain.Indexers = args
			return RunMain.Run()
		},
	}
	flags := runCommand.Flags()
	err = commandeer.Flags(flags, RunMain)
	if err != nil {
		panic(err)
	}
	return runCommand
}

func init() {
	subcommandFns["run"] = NewRunCommand
}
