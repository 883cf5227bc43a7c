// Command olapquery is a standalone CLI driving the query planning and
// execution core directly against an in-process DuckDB instance, useful for
// ad-hoc exploration and smoke-testing a catalog without a server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "olapquery",
		Short:         "Run analytical queries against a DuckDB-backed catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newVersionCmd())
	root.AddCommand(newQueryCmd())
	root.AddCommand(newSavedCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(os.Stdout, "olapquery version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
