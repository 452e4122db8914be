// Package memory provides in-process implementations of the store interfaces.
// It backs unit tests and single-run local usage where nothing has to outlive
// the process.
package memory

import (
	"context"
	"sync"

	"github.com/Sternrassler/crawl-dedup/pkg/store"
)

// Store holds collections and KV entries in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]store.Record
	kv          map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string][]store.Record),
		kv:          make(map[string][]byte),
	}
}

// Seed replaces the contents of a collection.
func (s *Store) Seed(collectionID string, recs []store.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collectionID] = append([]store.Record(nil), recs...)
}

// ItemCount returns the number of records in the collection.
func (s *Store) ItemCount(_ context.Context, collectionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collectionID]), nil
}

// FetchRange returns a copy of the requested slice of the collection.
func (s *Store) FetchRange(ctx context.Context, collectionID string, r store.Range) ([]store.Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	recs := s.collections[collectionID]
	start := min(r.Offset, len(recs))
	end := len(recs)
	if r.Limit < end-start {
		end = start + r.Limit
	}
	out := append([]store.Record(nil), recs[start:end]...)
	s.mu.RUnlock()

	return store.ProjectAll(out, r.Fields)
}

// Append adds a record to the end of the collection.
func (s *Store) Append(_ context.Context, collectionID string, rec store.Record) error {
	cp := append(store.Record(nil), rec...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collectionID] = append(s.collections[collectionID], cp)
	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores value under key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = append([]byte(nil), value...)
	return nil
}
