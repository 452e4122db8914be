package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/crawl-dedup/pkg/logging"
	"github.com/Sternrassler/crawl-dedup/pkg/store"
)

const (
	// DefaultLedgerKey is the KV key the ledger is persisted under.
	DefaultLedgerKey = "bulkload:ledger"

	// DefaultFlushInterval is how often a running ledger is persisted.
	DefaultFlushInterval = 15 * time.Second
)

// BatchStatus is the persisted state of one batch.
type BatchStatus struct {
	Done bool `json:"done"`
}

// Ledger records which batches of a streaming load were processed, so a
// restarted load can skip them. Batches are keyed by collection ID and the
// global offset of their first requested record.
//
// The collection list, batch size and window must not change between runs
// that share a ledger.
type Ledger struct {
	kv       store.KV
	key      string
	interval time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	state map[string]map[int]*BatchStatus
	dirty bool
}

// NewLedger creates a ledger persisted in kv under key. Zero values select
// DefaultLedgerKey and DefaultFlushInterval.
func NewLedger(kv store.KV, key string, interval time.Duration) *Ledger {
	if key == "" {
		key = DefaultLedgerKey
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Ledger{
		kv:       kv,
		key:      key,
		interval: interval,
		logger:   logging.NewLogger(logging.ComponentLedger),
		state:    make(map[string]map[int]*BatchStatus),
	}
}

// Key returns the KV key of the ledger.
func (l *Ledger) Key() string {
	return l.key
}

// Load replaces the in-memory state with the persisted one.
// A missing key yields an empty ledger.
func (l *Ledger) Load(ctx context.Context) error {
	data, err := l.kv.Get(ctx, l.key)
	if errors.Is(err, store.ErrNotFound) {
		l.mu.Lock()
		l.state = make(map[string]map[int]*BatchStatus)
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ledger %s: %w", l.key, err)
	}

	state := make(map[string]map[int]*BatchStatus)
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode ledger %s: %w", l.key, err)
	}

	l.mu.Lock()
	l.state = state
	l.mu.Unlock()

	l.logger.Debug().
		Str("key", l.key).
		Int("collections", len(state)).
		Msg("Ledger loaded")
	return nil
}

// Register records that the batch is part of the current load and reports
// whether it was already completed by an earlier run.
func (l *Ledger) Register(collectionID string, offset int) (done bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	batches := l.state[collectionID]
	if batches == nil {
		batches = make(map[int]*BatchStatus)
		l.state[collectionID] = batches
	}
	st, ok := batches[offset]
	if !ok {
		batches[offset] = &BatchStatus{}
		l.dirty = true
		return false
	}
	return st.Done
}

// IsDone reports whether the batch was marked done.
func (l *Ledger) IsDone(collectionID string, offset int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.state[collectionID][offset]
	return ok && st.Done
}

// MarkDone marks the batch as processed. Safe to call in any order.
func (l *Ledger) MarkDone(collectionID string, offset int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	batches := l.state[collectionID]
	if batches == nil {
		batches = make(map[int]*BatchStatus)
		l.state[collectionID] = batches
	}
	batches[offset] = &BatchStatus{Done: true}
	l.dirty = true
}

// Flush persists the state when it changed since the last flush.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(l.state)
	l.dirty = false
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	if err := l.kv.Set(ctx, l.key, data); err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		LedgerFlushes.WithLabelValues("error").Inc()
		return fmt.Errorf("persist ledger %s: %w", l.key, err)
	}

	LedgerFlushes.WithLabelValues("ok").Inc()
	l.logger.Debug().Str("key", l.key).Int("bytes", len(data)).Msg("Ledger flushed")
	return nil
}

// Start flushes the ledger every interval until the returned stop function
// is called. Stop waits for the background loop and flushes a final time.
func (l *Ledger) Start(ctx context.Context) (stop func() error) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := l.Flush(loopCtx); err != nil && loopCtx.Err() == nil {
					l.logger.Warn().Err(err).Msg("Periodic ledger flush failed")
				}
			}
		}
	}()

	var once sync.Once
	var stopErr error
	return func() error {
		once.Do(func() {
			cancel()
			<-done
			// The caller's context may already be cancelled; the final flush still runs.
			stopErr = l.Flush(context.WithoutCancel(ctx))
		})
		return stopErr
	}
}
