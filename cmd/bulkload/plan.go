package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/crawl-dedup/pkg/pagination"
)

func newPlanCmd(root *rootOptions) *cobra.Command {
	flags := &loadFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the batches a load would fetch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := resolveBackends(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := flags.options(root.cfg)
			if err != nil {
				return err
			}

			batches, err := pagination.NewFetcher(b.Collections).Plan(cmd.Context(), flags.collections, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			total := 0
			for _, batch := range batches {
				fmt.Fprintln(out, batch)
				total += batch.Limit()
			}
			fmt.Fprintf(out, "%d batches, up to %d records\n", len(batches), total)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
