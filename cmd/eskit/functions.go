package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/eskit/internal/benchmark"
)

func newFunctionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the benchmark functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMIN\tMAX")
			for _, fn := range benchmark.All() {
				fmt.Fprintf(tw, "%s\t%g\t%g\n", fn.Name, fn.MinBound, fn.MaxBound)
			}
			return tw.Flush()
		},
	}
}
