package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/mgijax/feindexer-sub001/job"
	"github.com/spf13/cobra"
)

// NewListCommand returns a command printing the known indexers.
func NewListCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	main := job.NewListMain()
	main.Stdout = stdout
	com, err := cobrafy.Command(main)
	if err != nil {
		panic(err)
	}
	com.Use = `list`
	com.Short = `list - print the indexers which can be run`
	return com
}

func init() {
	subcommandFns["list"] = NewListCommand
}
