package pagination

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/crawl-dedup/internal/testutil"
	"github.com/Sternrassler/crawl-dedup/pkg/store"
	"github.com/Sternrassler/crawl-dedup/pkg/store/memory"
)

func seededStore(sizes map[string]int) *testutil.FakeStore {
	fs := testutil.NewFakeStore()
	for id, n := range sizes {
		fs.Seed(id, testutil.Sequence(id, n))
	}
	return fs
}

func mustDecode(t *testing.T, recs []store.Record) []int {
	t.Helper()
	ns, err := testutil.DecodeN(recs)
	if err != nil {
		t.Fatalf("decode records: %v", err)
	}
	return ns
}

func assertRun(t *testing.T, got []int, from, to int) {
	t.Helper()
	if len(got) != to-from {
		t.Fatalf("got %d records, want %d", len(got), to-from)
	}
	for i, n := range got {
		if n != from+i {
			t.Fatalf("record %d = %d, want %d", i, n, from+i)
		}
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.BatchSize != 50000 {
		t.Errorf("Expected BatchSize 50000, got %d", opts.BatchSize)
	}
	if opts.Concurrency != 20 {
		t.Errorf("Expected Concurrency 20, got %d", opts.Concurrency)
	}
	if !opts.Window.IsZero() {
		t.Errorf("Expected whole-collection window, got %+v", opts.Window)
	}
}

func TestCollect_Scenario(t *testing.T) {
	fs := seededStore(map[string]int{"c": 120000})
	f := NewFetcher(fs)

	opts := DefaultOptions()
	opts.Window = Window{Offset: 40000, Limit: 90000}

	res, err := f.Collect(context.Background(), []string{"c"}, opts)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if fs.FetchCount("c") != 3 {
		t.Errorf("FetchRange called %d times, want 3", fs.FetchCount("c"))
	}
	// The window runs past the end of the collection.
	assertRun(t, mustDecode(t, res.Flatten()), 40000, 120000)

	batches := res.Batches()
	if len(batches) != 3 || len(batches[0]) != 10000 || len(batches[1]) != 50000 || len(batches[2]) != 20000 {
		t.Errorf("unexpected batch sizes")
	}
}

func TestCollect_PreservesOrderUnderRandomLatency(t *testing.T) {
	fs := seededStore(map[string]int{"a": 1000, "b": 0, "c": 2550})
	fs.MaxLatency = 3 * time.Millisecond
	f := NewFetcher(fs)

	opts := Options{BatchSize: 100, Concurrency: 8}
	res, err := f.Collect(context.Background(), []string{"a", "b", "c"}, opts)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	per := res.PerCollection()
	if len(per) != 3 {
		t.Fatalf("PerCollection() returned %d collections, want 3", len(per))
	}
	assertRun(t, mustDecode(t, per[0]), 0, 1000)
	if len(per[1]) != 0 {
		t.Errorf("empty collection returned %d records", len(per[1]))
	}
	assertRun(t, mustDecode(t, per[2]), 0, 2550)

	if res.Len() != 3550 || len(res.Flatten()) != 3550 {
		t.Errorf("Len() = %d, want 3550", res.Len())
	}
	nested := res.Nested()
	if len(nested[0]) != 10 || len(nested[1]) != 0 || len(nested[2]) != 26 {
		t.Errorf("nested batch counts = %d/%d/%d", len(nested[0]), len(nested[1]), len(nested[2]))
	}
	if ids := res.CollectionIDs(); len(ids) != 3 || ids[2] != "c" {
		t.Errorf("CollectionIDs() = %v", ids)
	}
}

func TestCollect_RespectsConcurrency(t *testing.T) {
	fs := seededStore(map[string]int{"c": 1000})
	fs.MaxLatency = 2 * time.Millisecond
	f := NewFetcher(fs)

	_, err := f.Collect(context.Background(), []string{"c"}, Options{BatchSize: 10, Concurrency: 4})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if peak := fs.PeakInFlight(); peak > 4 {
		t.Errorf("peak in-flight fetches = %d, want <= 4", peak)
	}
	if fs.FetchCount("c") != 100 {
		t.Errorf("FetchRange called %d times, want 100", fs.FetchCount("c"))
	}
}

func TestCollect_FetchErrorIsFatal(t *testing.T) {
	fs := seededStore(map[string]int{"c": 1000})
	boom := errors.New("storage unavailable")
	fs.FailFetch = func(_ string, offset int) error {
		if offset == 500 {
			return boom
		}
		return nil
	}
	f := NewFetcher(fs)

	res, err := f.Collect(context.Background(), []string{"c"}, Options{BatchSize: 100, Concurrency: 3})
	if res != nil {
		t.Error("Collect() returned partial results")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("Collect() error = %v, want %v", err, boom)
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Collect() error %T is not a *FetchError", err)
	}
	if fe.CollectionID != "c" || fe.Offset != 500 || fe.Limit != 100 {
		t.Errorf("FetchError = %+v", fe)
	}
}

func TestCollect_CombinedScope(t *testing.T) {
	fs := seededStore(map[string]int{"a": 100, "b": 100, "c": 100})
	f := NewFetcher(fs)

	opts := Options{
		BatchSize:   30,
		Concurrency: 4,
		Window:      Window{Offset: 80, Limit: 40},
		Scope:       ScopeCombined,
	}
	res, err := f.Collect(context.Background(), []string{"a", "b", "c"}, opts)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	per := res.PerCollection()
	assertRun(t, mustDecode(t, per[0]), 80, 100)
	assertRun(t, mustDecode(t, per[1]), 0, 20)
	if len(per[2]) != 0 {
		t.Errorf("collection outside the window returned %d records", len(per[2]))
	}
	if fs.FetchCount("c") != 0 {
		t.Errorf("collection outside the window was fetched")
	}
}

func TestCollect_PerCollectionScope(t *testing.T) {
	fs := seededStore(map[string]int{"a": 100, "b": 100})
	f := NewFetcher(fs)

	opts := Options{BatchSize: 30, Window: Window{Offset: 80, Limit: 10}}
	res, err := f.Collect(context.Background(), []string{"a", "b"}, opts)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	per := res.PerCollection()
	assertRun(t, mustDecode(t, per[0]), 80, 90)
	assertRun(t, mustDecode(t, per[1]), 80, 90)
}

func TestCollect_Fields(t *testing.T) {
	fs := seededStore(map[string]int{"c": 3})
	f := NewFetcher(fs)

	res, err := f.Collect(context.Background(), []string{"c"}, Options{Fields: []string{"n"}})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	for i, rec := range res.Flatten() {
		if want := `{"n":` + string(rune('0'+i)) + `}`; string(rec) != want {
			t.Errorf("record %d = %s, want %s", i, rec, want)
		}
	}
}

func TestCollect_InvalidWindow(t *testing.T) {
	f := NewFetcher(memory.New())
	_, err := f.Collect(context.Background(), []string{"c"}, Options{Window: Window{Offset: -1, Limit: 10}})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("Collect() error = %v, want ErrInvalidWindow", err)
	}
}

type countErrorStore struct {
	*memory.Store
	err error
}

func (s countErrorStore) ItemCount(context.Context, string) (int, error) {
	return 0, s.err
}

func TestCollect_ItemCountError(t *testing.T) {
	boom := errors.New("count failed")
	f := NewFetcher(countErrorStore{Store: memory.New(), err: boom})
	if _, err := f.Collect(context.Background(), []string{"c"}, Options{}); !errors.Is(err, boom) {
		t.Errorf("Collect() error = %v, want %v", err, boom)
	}
}

func TestCollect_ContextCancelled(t *testing.T) {
	fs := seededStore(map[string]int{"c": 1000})
	fs.FetchDelay = make(chan struct{})
	f := NewFetcher(fs)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.Collect(ctx, []string{"c"}, Options{BatchSize: 10, Concurrency: 2})
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Collect() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Collect() did not return after cancellation")
	}
}

// streamSink records streamed batches by global offset.
type streamSink struct {
	mu      sync.Mutex
	batches map[int][]store.Record
}

func newStreamSink() *streamSink {
	return &streamSink{batches: make(map[int][]store.Record)}
}

func (s *streamSink) consume(_ context.Context, items []store.Record, info BatchInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[info.Offset] = items
	return nil
}

func (s *streamSink) flatten() []store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	offsets := make([]int, 0, len(s.batches))
	for off := range s.batches {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	var out []store.Record
	for _, off := range offsets {
		out = append(out, s.batches[off]...)
	}
	return out
}

func TestStream_DeliversEveryBatch(t *testing.T) {
	fs := seededStore(map[string]int{"c": 1050})
	fs.MaxLatency = time.Millisecond
	f := NewFetcher(fs)
	sink := newStreamSink()

	err := f.Stream(context.Background(), []string{"c"}, sink.consume, StreamOptions{
		Options: Options{BatchSize: 100, Concurrency: 5, Verbose: true},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	assertRun(t, mustDecode(t, sink.flatten()), 0, 1050)
}

func TestStream_NilFunc(t *testing.T) {
	f := NewFetcher(memory.New())
	if err := f.Stream(context.Background(), []string{"c"}, nil, StreamOptions{}); err == nil {
		t.Error("Stream() with nil BatchFunc returned nil error")
	}
}

func TestStream_ProcessError(t *testing.T) {
	fs := seededStore(map[string]int{"c": 500})
	f := NewFetcher(fs)
	boom := errors.New("consumer failed")

	err := f.Stream(context.Background(), []string{"c"}, func(_ context.Context, _ []store.Record, info BatchInfo) error {
		if info.Offset == 200 {
			return boom
		}
		return nil
	}, StreamOptions{Options: Options{BatchSize: 100, Concurrency: 2}})

	var pe *ProcessError
	if !errors.As(err, &pe) || !errors.Is(err, boom) {
		t.Fatalf("Stream() error = %v, want ProcessError wrapping %v", err, boom)
	}
	if pe.Offset != 200 {
		t.Errorf("ProcessError.Offset = %d, want 200", pe.Offset)
	}
}

func TestStream_ResumesFromLedger(t *testing.T) {
	ctx := context.Background()
	fs := seededStore(map[string]int{"c": 1000})
	kv := memory.New()
	f := NewFetcher(fs)
	opts := Options{BatchSize: 100, Concurrency: 1}

	// First run dies at offset 500 after completing the five batches before it.
	boom := errors.New("crash")
	fs.FailFetch = func(_ string, offset int) error {
		if offset == 500 {
			return boom
		}
		return nil
	}
	first := newStreamSink()
	err := f.Stream(ctx, []string{"c"}, first.consume, StreamOptions{
		Options: opts,
		Ledger:  NewLedger(kv, "ledger", time.Hour),
	})
	if !errors.Is(err, boom) {
		t.Fatalf("first Stream() error = %v, want %v", err, boom)
	}

	// Second run with a fresh ledger instance reloaded from the store.
	fs.FailFetch = nil
	fs.Reset()
	second := newStreamSink()
	err = f.Stream(ctx, []string{"c"}, second.consume, StreamOptions{
		Options: opts,
		Ledger:  NewLedger(kv, "ledger", time.Hour),
	})
	if err != nil {
		t.Fatalf("second Stream() error = %v", err)
	}

	if got := fs.FetchCount("c"); got != 5 {
		t.Errorf("second run fetched %d batches, want 5", got)
	}
	for _, r := range fs.Fetched {
		if r.Offset < 500 {
			t.Errorf("second run refetched completed batch at offset %d", r.Offset)
		}
	}

	combined := append(first.flatten(), second.flatten()...)
	assertRun(t, mustDecode(t, combined), 0, 1000)

	// Every batch is now recorded as done.
	l := NewLedger(kv, "ledger", time.Hour)
	if err := l.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for off := 0; off < 1000; off += 100 {
		if !l.IsDone("c", off) {
			t.Errorf("batch %d not marked done", off)
		}
	}
}

func TestStream_ResumedRunMatchesFullRun(t *testing.T) {
	ctx := context.Background()
	fs := seededStore(map[string]int{"a": 300, "b": 450})
	kv := memory.New()
	f := NewFetcher(fs)
	opts := Options{BatchSize: 50, Concurrency: 4}

	seed := NewLedger(kv, "ledger", time.Hour)
	seed.MarkDone("a", 0)
	seed.MarkDone("b", 200)
	seed.MarkDone("b", 400)
	if err := seed.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	sink := newStreamSink()
	err := f.Stream(ctx, []string{"a", "b"}, func(ctx context.Context, items []store.Record, info BatchInfo) error {
		// Key by collection ordinal to keep both collections apart.
		info.Offset += info.CollectionOrdinal * 10000
		return sink.consume(ctx, items, info)
	}, StreamOptions{Options: opts, Ledger: NewLedger(kv, "ledger", time.Hour)})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if got := fs.FetchCount("a") + fs.FetchCount("b"); got != 6+9-3 {
		t.Errorf("fetched %d batches, want %d", got, 6+9-3)
	}
	sink.mu.Lock()
	_, hasA0 := sink.batches[0]
	_, hasB200 := sink.batches[10200]
	sink.mu.Unlock()
	if hasA0 || hasB200 {
		t.Error("completed batches were delivered again")
	}
}
