package main

import (
	"fmt"
	"os"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/cmd"
	"github.com/pkg/errors"
)

func main() {
	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := errors.Cause(err).(*feindexer.FailedError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
