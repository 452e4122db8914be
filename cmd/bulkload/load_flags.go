package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/crawl-dedup/pkg/config"
	"github.com/Sternrassler/crawl-dedup/pkg/pagination"
)

// loadFlags are the window and tuning flags shared by plan and export.
type loadFlags struct {
	collections []string
	offset      int
	limit       int
	scope       string
	fields      []string
	batchSize   int
	concurrency int
	verbose     bool
}

func (f *loadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.collections, "collections", "c", nil, "collections to load, in order")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "first record of the window")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "number of records in the window (0 loads everything from offset)")
	cmd.Flags().StringVar(&f.scope, "scope", "per_collection", "window scope: per_collection or combined")
	cmd.Flags().StringSliceVar(&f.fields, "fields", nil, "keep only these top-level record fields")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "records per batch (default loader.batch_size)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "batches fetched at once (default loader.concurrency)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log every batch with running totals")
	_ = cmd.MarkFlagRequired("collections")
}

func (f *loadFlags) options(cfg config.Config) (pagination.Options, error) {
	scope, err := pagination.ParseScope(f.scope)
	if err != nil {
		return pagination.Options{}, err
	}

	window := pagination.Window{Offset: f.offset, Limit: f.limit}
	if f.limit == 0 && f.offset > 0 {
		window.Limit = pagination.WholeCollection.Limit
	}
	if err := window.Validate(); err != nil {
		return pagination.Options{}, fmt.Errorf("--offset/--limit: %w", err)
	}

	opts := pagination.Options{
		BatchSize:    cfg.Loader.BatchSize,
		Concurrency:  cfg.Loader.Concurrency,
		Window:       window,
		Scope:        scope,
		Fields:       f.fields,
		FetchTimeout: cfg.Loader.FetchTimeout,
		Verbose:      f.verbose,
	}
	if f.batchSize > 0 {
		opts.BatchSize = f.batchSize
	}
	if f.concurrency > 0 {
		opts.Concurrency = f.concurrency
	}
	return opts, nil
}
