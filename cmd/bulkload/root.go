package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/crawl-dedup/internal/backend"
	"github.com/Sternrassler/crawl-dedup/pkg/config"
	"github.com/Sternrassler/crawl-dedup/pkg/logging"
)

// backendsKeyType is the context key for the opened backends.
type backendsKeyType string

const backendsKey backendsKeyType = "backends"

// openBackends is a variable so tests can inject seeded stores.
var openBackends = backend.Open

type rootOptions struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "bulkload",
		Short: "Load large collections in parallel batches",
		Long: `bulkload reads one or more collections from the configured store in
fixed-size batches, fetching up to loader.concurrency batches at once.
The export command records finished batches in a ledger kept in the
configured KV store, so an interrupted export resumes where it stopped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			logging.Setup(logging.Config{
				Level:  logging.LogLevel(cfg.Log.Level),
				Pretty: cfg.Log.Pretty,
				Output: os.Stderr,
			})

			b, err := openBackends(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("open backends: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), backendsKey, b))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if b, ok := cmd.Context().Value(backendsKey).(*backend.Backends); ok && b != nil {
				return b.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML); DEDUP_* environment variables override it")

	cmd.AddCommand(newPlanCmd(opts))
	cmd.AddCommand(newExportCmd(opts))
	return cmd
}

func resolveBackends(ctx context.Context) (*backend.Backends, error) {
	b, ok := ctx.Value(backendsKey).(*backend.Backends)
	if !ok || b == nil {
		return nil, errors.New("backends not initialized")
	}
	return b, nil
}
