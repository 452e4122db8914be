package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/crawl-dedup/pkg/logging"
	"github.com/Sternrassler/crawl-dedup/pkg/store"
)

const (
	// DefaultBatchSize is the number of records per batch.
	DefaultBatchSize = 50000

	// DefaultConcurrency is the maximum number of batches fetched at once.
	DefaultConcurrency = 20

	progressLogEvery = 50
)

// Options configures a load.
type Options struct {
	// BatchSize is the fetch granularity (default: 50000)
	BatchSize int

	// Concurrency is the maximum number of in-flight batch fetches (default: 20)
	Concurrency int

	// Window restricts the load to a slice of the collections (default: everything)
	Window Window

	// Scope decides whether Window applies to each collection or to all of them combined
	Scope Scope

	// Fields restricts every record to these top-level keys
	Fields []string

	// FetchTimeout bounds a single batch fetch. Zero means no timeout.
	FetchTimeout time.Duration

	// Verbose logs every batch at info level with running totals
	Verbose bool
}

// DefaultOptions returns the default load options.
func DefaultOptions() Options {
	return Options{
		BatchSize:   DefaultBatchSize,
		Concurrency: DefaultConcurrency,
	}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// BatchInfo identifies the batch handed to a BatchFunc.
type BatchInfo struct {
	CollectionID      string
	CollectionOrdinal int
	Sequence          int
	// Offset is the global offset of the first record in the batch.
	Offset int
}

// BatchFunc consumes the records of one batch. It is called concurrently
// from up to Options.Concurrency goroutines.
type BatchFunc func(ctx context.Context, items []store.Record, info BatchInfo) error

// StreamOptions configures a streaming load.
type StreamOptions struct {
	Options

	// Ledger, when set, skips batches completed by earlier runs and records
	// newly completed ones.
	Ledger *Ledger
}

// Fetcher loads collections from a store in parallel batches.
type Fetcher struct {
	store  store.Collections
	logger zerolog.Logger
}

// NewFetcher creates a fetcher reading from s.
func NewFetcher(s store.Collections) *Fetcher {
	return &Fetcher{
		store:  s,
		logger: logging.NewLogger(logging.ComponentBulkLoad),
	}
}

// Plan counts the records of every collection and returns the batches that
// intersect the requested window, in collection order then sequence order.
func (f *Fetcher) Plan(ctx context.Context, collectionIDs []string, opts Options) ([]BatchDescriptor, error) {
	opts = opts.withDefaults()
	if err := opts.Window.Validate(); err != nil {
		return nil, err
	}

	sizes := make([]int, len(collectionIDs))
	for i, id := range collectionIDs {
		n, err := f.store.ItemCount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("count items of %s: %w", id, err)
		}
		sizes[i] = n
		if opts.Verbose {
			f.logger.Info().Str("collection", id).Int("items", n).Msg("Collection size")
		}
	}

	var batches []BatchDescriptor
	base := 0
	for i, id := range collectionIDs {
		window := opts.Window
		if opts.Scope == ScopeCombined {
			w, ok := collectionWindow(opts.Window, base, sizes[i])
			base = saturatingAdd(base, sizes[i])
			if !ok {
				continue
			}
			window = w
		}
		batches = append(batches, PlanBatches(id, i, sizes[i], opts.BatchSize, window)...)
	}

	if opts.Verbose {
		f.logger.Info().Int("batches", len(batches)).Msg("Load planned")
	}
	return batches, nil
}

// Collect loads the collections and returns all records in collection order,
// then batch order, regardless of the order in which batches complete.
// Any batch failure aborts the load and no records are returned.
func (f *Fetcher) Collect(ctx context.Context, collectionIDs []string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	start := time.Now()

	batches, err := f.Plan(ctx, collectionIDs, opts)
	if err != nil {
		return nil, err
	}

	slots := make([]int, len(collectionIDs))
	firstSeq := make([]int, len(collectionIDs))
	for _, b := range batches {
		if slots[b.CollectionOrdinal] == 0 {
			firstSeq[b.CollectionOrdinal] = b.Sequence
		}
		slots[b.CollectionOrdinal]++
	}
	res := newResult(collectionIDs, slots)

	// Every slot is written by exactly one worker.
	err = f.run(ctx, batches, opts, func(_ context.Context, b BatchDescriptor, items []store.Record) error {
		res.batches[b.CollectionOrdinal][b.Sequence-firstSeq[b.CollectionOrdinal]] = items
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info().
		Int("collections", len(collectionIDs)).
		Int("batches", len(batches)).
		Int("items", res.Len()).
		Dur("duration", time.Since(start)).
		Msg("Load complete")
	return res, nil
}

// Stream loads the collections and hands every batch to fn without retaining
// it, bounding memory to roughly Concurrency*BatchSize records. With a Ledger
// the batches done by earlier runs are skipped and the ledger is flushed
// periodically and once more before Stream returns.
func (f *Fetcher) Stream(ctx context.Context, collectionIDs []string, fn BatchFunc, opts StreamOptions) (err error) {
	if fn == nil {
		return errors.New("stream: nil BatchFunc")
	}
	o := opts.Options.withDefaults()
	start := time.Now()

	batches, err := f.Plan(ctx, collectionIDs, o)
	if err != nil {
		return err
	}

	ledger := opts.Ledger
	if ledger != nil {
		if err := ledger.Load(ctx); err != nil {
			return err
		}

		pending := make([]BatchDescriptor, 0, len(batches))
		for _, b := range batches {
			if ledger.Register(b.CollectionID, b.Offset()) {
				BatchesTotal.WithLabelValues("skipped").Inc()
				f.logger.Info().
					Str("collection", b.CollectionID).
					Int("offset", b.Offset()).
					Msg("Batch already processed, skipping")
				continue
			}
			pending = append(pending, b)
		}
		batches = pending

		stop := ledger.Start(ctx)
		defer func() {
			if flushErr := stop(); flushErr != nil {
				f.logger.Error().Err(flushErr).Str("key", ledger.Key()).Msg("Final ledger flush failed")
				if err == nil {
					err = flushErr
				}
			}
		}()
	}

	err = f.run(ctx, batches, o, func(ctx context.Context, b BatchDescriptor, items []store.Record) error {
		info := BatchInfo{
			CollectionID:      b.CollectionID,
			CollectionOrdinal: b.CollectionOrdinal,
			Sequence:          b.Sequence,
			Offset:            b.Offset(),
		}
		if err := fn(ctx, items, info); err != nil {
			return &ProcessError{CollectionID: b.CollectionID, Offset: b.Offset(), Err: err}
		}
		if ledger != nil {
			ledger.MarkDone(b.CollectionID, b.Offset())
		}
		return nil
	})
	if err != nil {
		return err
	}

	f.logger.Info().
		Int("collections", len(collectionIDs)).
		Int("batches", len(batches)).
		Dur("duration", time.Since(start)).
		Msg("Stream complete")
	return nil
}

type batchHandler func(ctx context.Context, b BatchDescriptor, items []store.Record) error

// run executes batches on a pool of at most opts.Concurrency workers.
// The first error cancels the remaining work and is returned.
func (f *Fetcher) run(ctx context.Context, batches []BatchDescriptor, opts Options, handle batchHandler) error {
	if len(batches) == 0 {
		return nil
	}

	queue := make(chan BatchDescriptor, len(batches))
	for _, b := range batches {
		queue <- b
	}
	close(queue)

	prog := newProgress(len(batches))
	workers := min(opts.Concurrency, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error {
			return f.worker(gctx, workerID, queue, opts, prog, handle)
		})
	}
	return g.Wait()
}

// worker processes batches from the queue
func (f *Fetcher) worker(ctx context.Context, workerID int, queue <-chan BatchDescriptor, opts Options, prog *progress, handle batchHandler) error {
	processed := 0

	for b := range queue {
		if err := ctx.Err(); err != nil {
			f.logger.Debug().
				Int("worker_id", workerID).
				Int("batches_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return err
		}

		items, err := f.fetch(ctx, b, opts)
		if err != nil {
			BatchesTotal.WithLabelValues("failed").Inc()
			if ctx.Err() == nil {
				f.logger.Error().
					Err(err).
					Int("worker_id", workerID).
					Str("collection", b.CollectionID).
					Int("offset", b.Offset()).
					Int("limit", b.Limit()).
					Msg("Batch fetch failed")
			}
			return err
		}

		if err := handle(ctx, b, items); err != nil {
			return err
		}

		BatchesTotal.WithLabelValues("fetched").Inc()
		ItemsLoaded.Add(float64(len(items)))
		processed++
		f.logProgress(prog.add(b.CollectionID, len(items)), b, len(items), opts.Verbose)
	}

	if processed > 0 {
		f.logger.Debug().
			Int("worker_id", workerID).
			Int("batches_processed", processed).
			Msg("Worker completed")
	}
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, b BatchDescriptor, opts Options) ([]store.Record, error) {
	if opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.FetchTimeout)
		defer cancel()
	}

	start := time.Now()
	items, err := f.store.FetchRange(ctx, b.CollectionID, store.Range{
		Offset: b.Offset(),
		Limit:  b.Limit(),
		Fields: opts.Fields,
	})
	BatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &FetchError{
			CollectionID: b.CollectionID,
			Offset:       b.Offset(),
			Limit:        b.Limit(),
			Err:          err,
		}
	}
	return items, nil
}

func (f *Fetcher) logProgress(s progressSnapshot, b BatchDescriptor, items int, verbose bool) {
	ev := f.logger.Debug()
	if verbose {
		ev = f.logger.Info()
	}
	ev.Str("collection", b.CollectionID).
		Int("offset", b.Offset()).
		Int("items", items).
		Int("collection_total", s.collectionItems).
		Int("total", s.items).
		Msg("Batch loaded")

	if s.batches%progressLogEvery == 0 {
		f.logger.Info().
			Int("fetched", s.batches).
			Int("total", s.totalBatches).
			Float64("progress_pct", float64(s.batches)/float64(s.totalBatches)*100).
			Msg("Fetch progress")
	}
}

type progress struct {
	mu            sync.Mutex
	totalBatches  int
	batches       int
	items         int
	perCollection map[string]int
}

type progressSnapshot struct {
	totalBatches    int
	batches         int
	items           int
	collectionItems int
}

func newProgress(totalBatches int) *progress {
	return &progress{totalBatches: totalBatches, perCollection: make(map[string]int)}
}

func (p *progress) add(collectionID string, items int) progressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches++
	p.items += items
	p.perCollection[collectionID] += items
	return progressSnapshot{
		totalBatches:    p.totalBatches,
		batches:         p.batches,
		items:           p.items,
		collectionItems: p.perCollection[collectionID],
	}
}
