package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/crawl-dedup/pkg/logging"
	"github.com/Sternrassler/crawl-dedup/pkg/pagination"
	"github.com/Sternrassler/crawl-dedup/pkg/store"
)

const (
	// DefaultGlobalCollection holds full URLs seen across all domains.
	DefaultGlobalCollection = "articles-state"

	// DefaultGlobalField is the record field holding the URL.
	DefaultGlobalField = "url"

	// DefaultGlobalMaxItems caps how many of the newest records are loaded.
	DefaultGlobalMaxItems = 3_000_000
)

// GlobalConfig configures a GlobalSet.
type GlobalConfig struct {
	// Collection is the global state collection (default: "articles-state")
	Collection string

	// Field is the record field holding the URL (default: "url")
	Field string

	// MaxItems loads only the newest MaxItems records (default: 3000000)
	MaxItems int

	// Load tunes the bulk load. Window and Fields are set by LoadRecent.
	Load pagination.Options
}

func (c GlobalConfig) withDefaults() GlobalConfig {
	if c.Collection == "" {
		c.Collection = DefaultGlobalCollection
	}
	if c.Field == "" {
		c.Field = DefaultGlobalField
	}
	if c.MaxItems <= 0 {
		c.MaxItems = DefaultGlobalMaxItems
	}
	return c
}

// GlobalSet is a flat set of full URLs shared by all domains. It is the
// older, coarser alternative to the per-domain Cache and only remembers the
// most recent MaxItems URLs.
type GlobalSet struct {
	store store.Appender
	cfg   GlobalConfig

	mu   sync.RWMutex
	urls map[string]struct{}
}

// LoadRecent loads the newest cfg.MaxItems URLs of the global collection.
func LoadRecent(ctx context.Context, st store.CollectionStore, cfg GlobalConfig) (*GlobalSet, error) {
	cfg = cfg.withDefaults()
	logger := logging.NewLogger(logging.ComponentDedup)
	start := time.Now()

	count, err := st.ItemCount(ctx, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("count items of %s: %w", cfg.Collection, err)
	}
	offset := max(0, count-cfg.MaxItems)
	logger.Info().
		Str("collection", cfg.Collection).
		Int("items", count).
		Int("max_items", cfg.MaxItems).
		Int("offset", offset).
		Msg("Loading global state collection")

	g := &GlobalSet{store: st, cfg: cfg, urls: make(map[string]struct{}, min(count, cfg.MaxItems))}
	if count == 0 {
		return g, nil
	}

	opts := cfg.Load
	opts.Window = pagination.Window{Offset: offset, Limit: cfg.MaxItems}
	opts.Scope = pagination.ScopePerCollection
	opts.Fields = []string{cfg.Field}

	err = pagination.NewFetcher(st).Stream(ctx, []string{cfg.Collection}, func(_ context.Context, items []store.Record, _ pagination.BatchInfo) error {
		urls := make([]string, 0, len(items))
		for _, rec := range items {
			if u, ok := identifierOf(rec, cfg.Field); ok {
				urls = append(urls, u)
			}
		}
		g.mu.Lock()
		for _, u := range urls {
			g.urls[u] = struct{}{}
		}
		g.mu.Unlock()
		return nil
	}, pagination.StreamOptions{Options: opts})
	if err != nil {
		return nil, fmt.Errorf("load global state %s: %w", cfg.Collection, err)
	}

	logger.Info().
		Int("urls", g.Len()).
		Dur("duration", time.Since(start)).
		Msg("Loaded unique URLs from global state")
	return g, nil
}

// Has reports whether rawURL is in the set. URLs are compared verbatim.
func (g *GlobalSet) Has(rawURL string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.urls[rawURL]
	return ok
}

// Add records rawURL and appends it to the global collection when new.
func (g *GlobalSet) Add(ctx context.Context, rawURL string) (bool, error) {
	if rawURL == "" {
		return false, fmt.Errorf("%w: empty url", ErrMalformedIdentifier)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.urls[rawURL]; ok {
		return false, nil
	}
	rec, err := json.Marshal(map[string]string{g.cfg.Field: rawURL})
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	if err := g.store.Append(ctx, g.cfg.Collection, rec); err != nil {
		return false, fmt.Errorf("append to %s: %w", g.cfg.Collection, err)
	}
	g.urls[rawURL] = struct{}{}
	return true, nil
}

// Len returns the number of URLs held.
func (g *GlobalSet) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.urls)
}
