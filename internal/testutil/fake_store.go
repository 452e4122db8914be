// Package testutil provides testing utilities for the bulk loader and the dedup cache.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/Sternrassler/crawl-dedup/pkg/store"
	"github.com/Sternrassler/crawl-dedup/pkg/store/memory"
)

// FakeStore is a configurable in-memory collection store for testing.
// It adds latency, failure injection and call tracking on top of memory.Store.
type FakeStore struct {
	*memory.Store

	mu sync.Mutex

	// MaxLatency adds a random delay in [0, MaxLatency) to every FetchRange.
	MaxLatency time.Duration

	// FailFetch, when set, is consulted before every FetchRange.
	FailFetch func(collectionID string, offset int) error

	// FailAppend, when set, is consulted before every Append.
	FailAppend func(collectionID string) error

	// FetchDelay, when set, blocks every FetchRange until it is closed or the
	// context is cancelled.
	FetchDelay chan struct{}

	// Tracking
	CountCalls  map[string]int
	FetchCalls  map[string]int
	AppendCalls map[string]int
	Fetched     []store.Range
	inFlight    int
	MaxInFlight int

	rng *rand.Rand
}

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		Store:       memory.New(),
		CountCalls:  make(map[string]int),
		FetchCalls:  make(map[string]int),
		AppendCalls: make(map[string]int),
		rng:         rand.New(rand.NewSource(1)),
	}
}

// ItemCount counts the call and delegates to the in-memory store.
func (f *FakeStore) ItemCount(ctx context.Context, collectionID string) (int, error) {
	f.mu.Lock()
	f.CountCalls[collectionID]++
	f.mu.Unlock()
	return f.Store.ItemCount(ctx, collectionID)
}

// FetchRange applies injected latency and failures before delegating.
func (f *FakeStore) FetchRange(ctx context.Context, collectionID string, r store.Range) ([]store.Record, error) {
	f.mu.Lock()
	f.FetchCalls[collectionID]++
	f.Fetched = append(f.Fetched, store.Range{Offset: r.Offset, Limit: r.Limit})
	f.inFlight++
	if f.inFlight > f.MaxInFlight {
		f.MaxInFlight = f.inFlight
	}
	var delay time.Duration
	if f.MaxLatency > 0 {
		delay = time.Duration(f.rng.Int63n(int64(f.MaxLatency)))
	}
	fail := f.FailFetch
	gate := f.FetchDelay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(collectionID, r.Offset); err != nil {
			return nil, err
		}
	}
	return f.Store.FetchRange(ctx, collectionID, r)
}

// Append counts the call and applies injected failures before delegating.
func (f *FakeStore) Append(ctx context.Context, collectionID string, rec store.Record) error {
	f.mu.Lock()
	f.AppendCalls[collectionID]++
	fail := f.FailAppend
	f.mu.Unlock()

	if fail != nil {
		if err := fail(collectionID); err != nil {
			return err
		}
	}
	return f.Store.Append(ctx, collectionID, rec)
}

// FetchCount returns the number of FetchRange calls for a collection.
func (f *FakeStore) FetchCount(collectionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FetchCalls[collectionID]
}

// CountCount returns the number of ItemCount calls for a collection.
func (f *FakeStore) CountCount(collectionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CountCalls[collectionID]
}

// AppendCount returns the number of Append calls for a collection.
func (f *FakeStore) AppendCount(collectionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AppendCalls[collectionID]
}

// PeakInFlight returns the highest number of concurrent FetchRange calls observed.
func (f *FakeStore) PeakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MaxInFlight
}

// Reset clears all tracking counters.
func (f *FakeStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CountCalls = make(map[string]int)
	f.FetchCalls = make(map[string]int)
	f.AppendCalls = make(map[string]int)
	f.Fetched = nil
	f.MaxInFlight = 0
}

// Sequence returns n records of the form {"n":<i>,"c":"<collection>"}.
func Sequence(collectionID string, n int) []store.Record {
	recs := make([]store.Record, n)
	for i := range recs {
		recs[i] = store.Record(fmt.Sprintf(`{"n":%d,"c":%q}`, i, collectionID))
	}
	return recs
}

// PathRecords returns one {"path": p} record per path.
func PathRecords(paths ...string) []store.Record {
	recs := make([]store.Record, len(paths))
	for i, p := range paths {
		data, _ := json.Marshal(map[string]string{"path": p})
		recs[i] = data
	}
	return recs
}

// DecodeN extracts the "n" field from records built by Sequence.
func DecodeN(recs []store.Record) ([]int, error) {
	out := make([]int, len(recs))
	for i, rec := range recs {
		var v struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = v.N
	}
	return out, nil
}
