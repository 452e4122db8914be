package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/crawl-dedup/pkg/store"
)

const (
	// DefaultCollectionPrefix prefixes every collection list key.
	DefaultCollectionPrefix = "dedup:collection:"

	// DefaultKVPrefix prefixes every KV key.
	DefaultKVPrefix = "dedup:kv:"
)

// Options configures key layout and value expiry.
type Options struct {
	CollectionPrefix string
	KVPrefix         string

	// KVTTL expires KV values after the given duration (0 keeps them forever).
	KVTTL time.Duration
}

// Store implements store.CollectionStore and store.KV with Redis.
type Store struct {
	redis *redis.Client
	opts  Options
}

var (
	_ store.CollectionStore = (*Store)(nil)
	_ store.KV              = (*Store)(nil)
)

// New creates a Redis-backed store.
func New(redisClient *redis.Client, opts Options) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if opts.CollectionPrefix == "" {
		opts.CollectionPrefix = DefaultCollectionPrefix
	}
	if opts.KVPrefix == "" {
		opts.KVPrefix = DefaultKVPrefix
	}
	return &Store{redis: redisClient, opts: opts}
}

func (s *Store) collectionKey(id string) string { return s.opts.CollectionPrefix + id }

func (s *Store) kvKey(key string) string { return s.opts.KVPrefix + key }

// ItemCount returns the list length of the collection.
func (s *Store) ItemCount(ctx context.Context, collectionID string) (int, error) {
	Operations.WithLabelValues("llen").Inc()
	n, err := s.redis.LLen(ctx, s.collectionKey(collectionID)).Result()
	if err != nil {
		Errors.WithLabelValues("llen").Inc()
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return int(n), nil
}

// FetchRange reads [Offset, Offset+Limit) from the collection list.
func (s *Store) FetchRange(ctx context.Context, collectionID string, r store.Range) ([]store.Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.Limit == 0 {
		return nil, nil
	}

	Operations.WithLabelValues("lrange").Inc()
	start := int64(r.Offset)
	stop := start + int64(r.Limit) - 1
	vals, err := s.redis.LRange(ctx, s.collectionKey(collectionID), start, stop).Result()
	if err != nil {
		Errors.WithLabelValues("lrange").Inc()
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	recs := make([]store.Record, len(vals))
	for i, v := range vals {
		recs[i] = store.Record(v)
	}
	return store.ProjectAll(recs, r.Fields)
}

// Append pushes a record to the tail of the collection list.
func (s *Store) Append(ctx context.Context, collectionID string, rec store.Record) error {
	Operations.WithLabelValues("rpush").Inc()
	if err := s.redis.RPush(ctx, s.collectionKey(collectionID), []byte(rec)).Err(); err != nil {
		Errors.WithLabelValues("rpush").Inc()
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// Get returns store.ErrNotFound when the key is missing.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	Operations.WithLabelValues("get").Inc()
	data, err := s.redis.Get(ctx, s.kvKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set stores value under key, honoring Options.KVTTL.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	Operations.WithLabelValues("set").Inc()
	if err := s.redis.Set(ctx, s.kvKey(key), value, s.opts.KVTTL).Err(); err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
