package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/crawl-dedup/pkg/logging"
	"github.com/Sternrassler/crawl-dedup/pkg/pagination"
	"github.com/Sternrassler/crawl-dedup/pkg/store"
	"github.com/Sternrassler/crawl-dedup/pkg/waiter"
)

// State is the load state of one domain.
type State int

const (
	// StateAbsent means the domain was never requested (or its last load failed).
	StateAbsent State = iota

	// StateLoading means one caller is hydrating the domain; others wait.
	StateLoading

	// StateReady means the domain's identifiers are fully in memory.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarkPolicy decides how concurrent MarkSeen calls for the same new
// identifier are handled.
type MarkPolicy int

const (
	// MarkSerialized holds a per-domain lock around check-then-append so an
	// identifier is persisted at most once.
	MarkSerialized MarkPolicy = iota

	// MarkAllowDuplicates lets concurrent marks for the same identifier both
	// append. Writes to one domain never block each other.
	MarkAllowDuplicates
)

// ParseMarkPolicy accepts "serialized" and "allow_duplicates".
func ParseMarkPolicy(s string) (MarkPolicy, error) {
	switch s {
	case "", "serialized":
		return MarkSerialized, nil
	case "allow_duplicates":
		return MarkAllowDuplicates, nil
	default:
		return 0, fmt.Errorf("unknown mark policy %q", s)
	}
}

const (
	// DefaultIdentifierField is the record field holding the identifier.
	DefaultIdentifierField = "path"

	// DefaultLoadBatchSize is the batch size used to hydrate a domain.
	DefaultLoadBatchSize = 10000

	// DefaultWaitTimeout bounds how long a caller waits for another caller's load.
	DefaultWaitTimeout = time.Hour
)

// Config holds dedup cache configuration.
type Config struct {
	// CollectionPrefix names domain histories (default: "seen-")
	CollectionPrefix string

	// IdentifierField is the record field holding the identifier (default: "path")
	IdentifierField string

	// BatchSize is the load batch size (default: 10000)
	BatchSize int

	// Concurrency is the load concurrency (default: pagination.DefaultConcurrency)
	Concurrency int

	// WaitTimeout bounds waiting for an in-flight load (default: 1h)
	WaitTimeout time.Duration

	// MarkPolicy decides how concurrent marks are handled (default: MarkSerialized)
	MarkPolicy MarkPolicy

	// VerboseLoads logs every loaded batch at info level
	VerboseLoads bool
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		CollectionPrefix: DefaultCollectionPrefix,
		IdentifierField:  DefaultIdentifierField,
		BatchSize:        DefaultLoadBatchSize,
		Concurrency:      pagination.DefaultConcurrency,
		WaitTimeout:      DefaultWaitTimeout,
		MarkPolicy:       MarkSerialized,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = d.CollectionPrefix
	}
	if c.IdentifierField == "" {
		c.IdentifierField = d.IdentifierField
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	return c
}

// Stats summarizes the cache contents.
type Stats struct {
	Domains     int `json:"domains"`
	Loading     int `json:"loading"`
	Ready       int `json:"ready"`
	Identifiers int `json:"identifiers"`
}

// domainEntry holds one domain. ready is closed when the load finishes;
// loadErr is set before that and never changes afterwards.
type domainEntry struct {
	domain     string
	collection string
	ready      chan struct{}
	loadErr    error

	mu   sync.RWMutex
	seen map[string]struct{}

	writeMu sync.Mutex
}

func (e *domainEntry) isReady() bool {
	select {
	case <-e.ready:
		return e.loadErr == nil
	default:
		return false
	}
}

func (e *domainEntry) has(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.seen[id]
	return ok
}

func (e *domainEntry) add(id string) {
	e.mu.Lock()
	e.seen[id] = struct{}{}
	e.mu.Unlock()
}

func (e *domainEntry) size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.seen)
}

// Cache answers "was this URL seen before?" per domain. A domain's history
// is loaded from its collection on first use by exactly one caller; other
// callers for the same domain wait for that load. Domains are never evicted.
type Cache struct {
	store   store.CollectionStore
	fetcher *pagination.Fetcher
	cfg     Config
	logger  zerolog.Logger

	mu      sync.Mutex
	domains map[string]*domainEntry
}

// New creates a cache backed by st.
func New(st store.CollectionStore, cfg Config) *Cache {
	return &Cache{
		store:   st,
		fetcher: pagination.NewFetcher(st),
		cfg:     cfg.withDefaults(),
		logger:  logging.NewLogger(logging.ComponentDedup),
		domains: make(map[string]*domainEntry),
	}
}

// Config returns the effective configuration.
func (c *Cache) Config() Config {
	return c.cfg
}

// WasSeen reports whether rawURL was recorded for its domain.
func (c *Cache) WasSeen(ctx context.Context, rawURL string) (bool, error) {
	k, err := ParseURL(rawURL)
	if err != nil {
		return false, err
	}
	return c.WasSeenKey(ctx, k)
}

// WasSeenKey reports whether the identifier was recorded for the domain.
// The first call for a domain loads its history and may block for a long
// time; concurrent calls for the same domain wait up to Config.WaitTimeout.
func (c *Cache) WasSeenKey(ctx context.Context, k Key) (bool, error) {
	if err := k.validate(); err != nil {
		return false, err
	}
	e, err := c.entry(ctx, k.Domain)
	if err != nil {
		return false, err
	}

	hit := e.has(k.Identifier)
	if hit {
		Lookups.WithLabelValues("hit").Inc()
	} else {
		Lookups.WithLabelValues("miss").Inc()
	}
	c.logger.Debug().
		Str("domain", k.Domain).
		Str("identifier", k.Identifier).
		Bool("seen", hit).
		Msg("Lookup")
	return hit, nil
}

// MarkSeen records rawURL for its domain. It reports whether the identifier
// was new. Marking an already seen identifier is a no-op.
func (c *Cache) MarkSeen(ctx context.Context, rawURL string) (bool, error) {
	k, err := ParseURL(rawURL)
	if err != nil {
		return false, err
	}
	return c.MarkSeenKey(ctx, k)
}

// MarkSeenKey records the identifier in memory and appends it to the
// domain's history collection.
func (c *Cache) MarkSeenKey(ctx context.Context, k Key) (bool, error) {
	if err := k.validate(); err != nil {
		return false, err
	}
	e, err := c.entry(ctx, k.Domain)
	if err != nil {
		return false, err
	}

	if c.cfg.MarkPolicy == MarkSerialized {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
	}

	if e.has(k.Identifier) {
		Lookups.WithLabelValues("hit").Inc()
		return false, nil
	}
	Lookups.WithLabelValues("miss").Inc()

	rec, err := json.Marshal(map[string]string{c.cfg.IdentifierField: k.Identifier})
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	if err := c.store.Append(ctx, e.collection, rec); err != nil {
		return false, fmt.Errorf("append to %s: %w", e.collection, err)
	}
	e.add(k.Identifier)
	Marks.Inc()

	c.logger.Debug().
		Str("domain", k.Domain).
		Str("identifier", k.Identifier).
		Msg("Marked seen")
	return true, nil
}

// Preload loads a domain without querying it.
func (c *Cache) Preload(ctx context.Context, domain string) error {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return fmt.Errorf("%w: empty domain", ErrMalformedIdentifier)
	}
	_, err := c.entry(ctx, domain)
	return err
}

// State returns the load state of a domain.
func (c *Cache) State(domain string) State {
	c.mu.Lock()
	e, ok := c.domains[NormalizeDomain(domain)]
	c.mu.Unlock()

	switch {
	case !ok:
		return StateAbsent
	case e.isReady():
		return StateReady
	default:
		return StateLoading
	}
}

// Stats returns a snapshot of the cache contents.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries := make([]*domainEntry, 0, len(c.domains))
	for _, e := range c.domains {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	s := Stats{Domains: len(entries)}
	for _, e := range entries {
		if e.isReady() {
			s.Ready++
			s.Identifiers += e.size()
		} else {
			s.Loading++
		}
	}
	return s
}

// entry returns the ready entry of a domain. The first caller for an absent
// domain starts its load; every caller, including that one, then waits for
// the load with its own context and Config.WaitTimeout.
func (c *Cache) entry(ctx context.Context, domain string) (*domainEntry, error) {
	c.mu.Lock()
	e, ok := c.domains[domain]
	if !ok {
		// Absent -> Loading happens under c.mu, so exactly one caller loads.
		e = &domainEntry{
			domain:     domain,
			collection: CollectionName(c.cfg.CollectionPrefix, domain),
			ready:      make(chan struct{}),
			seen:       make(map[string]struct{}),
		}
		c.domains[domain] = e
		c.mu.Unlock()
		DomainsCached.Inc()

		// The load is shared, so it must outlive the caller that started it.
		go c.hydrate(context.WithoutCancel(ctx), e)
	} else {
		c.mu.Unlock()
	}

	select {
	case <-e.ready:
	default:
		c.logger.Debug().Str("domain", domain).Msg("Waiting for domain load")
		if err := waiter.ForSignal(ctx, e.ready, c.cfg.WaitTimeout); err != nil {
			c.logger.Error().Err(err).Str("domain", domain).Msg("Gave up waiting for domain load")
			return nil, fmt.Errorf("wait for domain %s: %w", domain, err)
		}
	}
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return e, nil
}

// hydrate loads e and closes e.ready. A failed entry is removed so the next
// caller starts a fresh load.
func (c *Cache) hydrate(ctx context.Context, e *domainEntry) {
	err := c.load(ctx, e)
	if err != nil {
		c.mu.Lock()
		if c.domains[e.domain] == e {
			delete(c.domains, e.domain)
			DomainsCached.Dec()
		}
		c.mu.Unlock()
		e.loadErr = err
	}
	close(e.ready)
}

// load streams the domain's history into e.seen.
func (c *Cache) load(ctx context.Context, e *domainEntry) error {
	start := time.Now()
	c.logger.Warn().
		Str("domain", e.domain).
		Str("collection", e.collection).
		Msg("Loading seen identifiers for domain, callers for this domain block until done")

	field := c.cfg.IdentifierField
	opts := pagination.StreamOptions{
		Options: pagination.Options{
			BatchSize:   c.cfg.BatchSize,
			Concurrency: c.cfg.Concurrency,
			Fields:      []string{field},
			Verbose:     c.cfg.VerboseLoads,
		},
	}

	err := c.fetcher.Stream(ctx, []string{e.collection}, func(_ context.Context, items []store.Record, _ pagination.BatchInfo) error {
		ids := make([]string, 0, len(items))
		for _, rec := range items {
			if id, ok := identifierOf(rec, field); ok {
				ids = append(ids, id)
			}
		}
		e.mu.Lock()
		for _, id := range ids {
			e.seen[id] = struct{}{}
		}
		e.mu.Unlock()
		return nil
	}, opts)

	DomainLoadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		DomainLoads.WithLabelValues("error").Inc()
		c.logger.Error().Err(err).Str("domain", e.domain).Msg("Domain load failed")
		return &LoadError{Domain: e.domain, Collection: e.collection, Err: err}
	}

	DomainLoads.WithLabelValues("ok").Inc()
	c.logger.Warn().
		Str("domain", e.domain).
		Int("items", e.size()).
		Dur("duration", time.Since(start)).
		Msg("Loaded seen identifiers for domain")
	return nil
}

// identifierOf extracts a string field from a JSON object record.
func identifierOf(rec store.Record, field string) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(rec, &obj); err != nil {
		return "", false
	}
	raw, ok := obj[field]
	if !ok {
		return "", false
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return "", false
	}
	return id, true
}
