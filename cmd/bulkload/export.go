package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/crawl-dedup/pkg/logging"
	"github.com/Sternrassler/crawl-dedup/pkg/pagination"
	"github.com/Sternrassler/crawl-dedup/pkg/store"
)

// exportLine is one NDJSON output line. Batches finish in any order, so each
// record carries its collection and position.
type exportLine struct {
	Collection string          `json:"collection"`
	Position   int             `json:"position"`
	Record     json.RawMessage `json:"record"`
}

type exportFlags struct {
	loadFlags
	out       string
	ledgerKey string
	noResume  bool
}

func newExportCmd(root *rootOptions) *cobra.Command {
	flags := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write collections as NDJSON, resuming from the ledger",
		Long: `export streams every planned batch to the output as NDJSON lines of the
form {"collection": ..., "position": ..., "record": {...}}. Finished batches
are recorded in a ledger in the configured KV store; rerunning the same
export skips them and appends to the output file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			b, err := resolveBackends(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := flags.options(root.cfg)
			if err != nil {
				return err
			}

			var ledger *pagination.Ledger
			if !flags.noResume {
				key := flags.ledgerKey
				if key == "" {
					key = root.cfg.Loader.LedgerKey
				}
				ledger = pagination.NewLedger(b.KV, key, root.cfg.Loader.FlushInterval)
			}

			w, closeOut, err := openOutput(cmd.OutOrStdout(), flags.out, ledger != nil)
			if err != nil {
				return err
			}
			// A failed close can lose lines of batches the ledger already marked done.
			defer func() {
				if cerr := closeOut(); err == nil {
					err = cerr
				}
			}()

			return export(cmd.Context(), pagination.NewFetcher(b.Collections), flags.collections, opts, ledger, w)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&flags.ledgerKey, "ledger-key", "", "KV key of the ledger (default loader.ledger_key)")
	cmd.Flags().BoolVar(&flags.noResume, "no-resume", false, "ignore and do not update the ledger")
	return cmd
}

// openOutput opens the export target. A resumable export appends so the
// lines of earlier runs are kept.
func openOutput(stdout io.Writer, path string, appendMode bool) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return f, func() error {
		if err := f.Close(); err != nil {
			return fmt.Errorf("close output: %w", err)
		}
		return nil
	}, nil
}

// export streams the collections to w. Each batch is encoded off-lock and
// written under a mutex so lines never interleave.
func export(ctx context.Context, fetcher *pagination.Fetcher, collections []string, opts pagination.Options, ledger *pagination.Ledger, w io.Writer) error {
	logger := logging.NewLogger(logging.ComponentBulkLoad)
	start := time.Now()

	bw := bufio.NewWriter(w)
	var (
		mu      sync.Mutex
		records int
	)

	err := fetcher.Stream(ctx, collections, func(_ context.Context, items []store.Record, info pagination.BatchInfo) error {
		buf := make([]byte, 0, len(items)*64)
		for i, rec := range items {
			line, err := json.Marshal(exportLine{
				Collection: info.CollectionID,
				Position:   info.Offset + i,
				Record:     json.RawMessage(rec),
			})
			if err != nil {
				return fmt.Errorf("encode %s@%d: %w", info.CollectionID, info.Offset+i, err)
			}
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}

		mu.Lock()
		defer mu.Unlock()
		if _, err := bw.Write(buf); err != nil {
			return err
		}
		// The ledger marks the batch done once this returns.
		if err := bw.Flush(); err != nil {
			return err
		}
		records += len(items)
		return nil
	}, pagination.StreamOptions{Options: opts, Ledger: ledger})
	if err != nil {
		return err
	}

	logger.Info().
		Strs("collections", collections).
		Int("items", records).
		Dur("duration", time.Since(start)).
		Msg("Export complete")
	return nil
}
