// Package backend opens the collection and KV stores selected in the
// configuration and shares connections between them.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/crawl-dedup/pkg/config"
	"github.com/Sternrassler/crawl-dedup/pkg/logging"
	"github.com/Sternrassler/crawl-dedup/pkg/store"
	"github.com/Sternrassler/crawl-dedup/pkg/store/badgerkv"
	"github.com/Sternrassler/crawl-dedup/pkg/store/blobkv"
	"github.com/Sternrassler/crawl-dedup/pkg/store/memory"
	"github.com/Sternrassler/crawl-dedup/pkg/store/postgres"
	"github.com/Sternrassler/crawl-dedup/pkg/store/redisstore"
)

// Backends holds the opened stores.
type Backends struct {
	// Collections reads and appends records. Reads are retried when
	// store.retries > 1.
	Collections store.CollectionStore

	// KV persists the bulk-load ledger.
	KV store.KV

	closers []func() error
}

// Close releases every opened connection in reverse order.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// opener lazily creates shared clients so a backend selected for both
// collections and KV connects once.
type opener struct {
	cfg      config.Config
	b        *Backends
	memory   *memory.Store
	redis    *redisstore.Store
	postgres *postgres.Store
}

// Open connects the backends named by cfg.Store.
func Open(ctx context.Context, cfg config.Config) (*Backends, error) {
	o := &opener{cfg: cfg, b: &Backends{}}

	collections, err := o.collections(ctx)
	if err != nil {
		_ = o.b.Close()
		return nil, err
	}
	kv, err := o.kv(ctx)
	if err != nil {
		_ = o.b.Close()
		return nil, err
	}

	if cfg.Store.Retries > 1 {
		rc := store.DefaultRetryConfig()
		rc.MaxAttempts = cfg.Store.Retries
		collections = retryingStore{
			Collections: store.WithRetry(collections, rc),
			Appender:    collections,
		}
	}

	o.b.Collections = collections
	o.b.KV = kv
	return o.b, nil
}

type retryingStore struct {
	store.Collections
	store.Appender
}

func (o *opener) collections(ctx context.Context) (store.CollectionStore, error) {
	switch o.cfg.Store.Collections {
	case config.BackendMemory:
		return o.memoryStore(), nil
	case config.BackendRedis:
		return o.redisStore(ctx)
	case config.BackendPostgres:
		return o.postgresStore(ctx)
	default:
		return nil, fmt.Errorf("unsupported collections backend %q", o.cfg.Store.Collections)
	}
}

func (o *opener) kv(ctx context.Context) (store.KV, error) {
	switch o.cfg.Store.KV {
	case config.BackendMemory:
		return o.memoryStore(), nil
	case config.BackendRedis:
		return o.redisStore(ctx)
	case config.BackendPostgres:
		return o.postgresStore(ctx)
	case config.BackendBadger:
		return o.badgerStore()
	case config.BackendBlob:
		return o.blobStore(ctx)
	default:
		return nil, fmt.Errorf("unsupported kv backend %q", o.cfg.Store.KV)
	}
}

func (o *opener) memoryStore() *memory.Store {
	if o.memory == nil {
		o.memory = memory.New()
		logger := logging.ForStore(config.BackendMemory)
		logger.Warn().Msg("Using in-memory store, nothing survives a restart")
	}
	return o.memory
}

func (o *opener) redisStore(ctx context.Context) (*redisstore.Store, error) {
	if o.redis != nil {
		return o.redis, nil
	}
	logger := logging.ForStore(config.BackendRedis)
	client := redis.NewClient(&redis.Options{
		Addr:     o.cfg.Redis.Addr,
		Password: o.cfg.Redis.Password,
		DB:       o.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", o.cfg.Redis.Addr, err)
	}
	logger.Info().Str("addr", o.cfg.Redis.Addr).Msg("Connected to Redis")

	o.b.closers = append(o.b.closers, client.Close)
	o.redis = redisstore.New(client, redisstore.Options{})
	return o.redis, nil
}

func (o *opener) postgresStore(ctx context.Context) (*postgres.Store, error) {
	if o.postgres != nil {
		return o.postgres, nil
	}
	logger := logging.ForStore(config.BackendPostgres)
	st, err := postgres.New(ctx, postgres.Config{
		DSN:          o.cfg.Postgres.DSN,
		RecordsTable: o.cfg.Postgres.RecordsTable,
		KVTable:      o.cfg.Postgres.KVTable,
		MaxConns:     o.cfg.Postgres.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	o.b.closers = append(o.b.closers, func() error {
		st.Close()
		return nil
	})

	if o.cfg.Postgres.EnsureSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		logger.Debug().Msg("Schema ensured")
	}
	logger.Info().
		Str("records_table", o.cfg.Postgres.RecordsTable).
		Str("kv_table", o.cfg.Postgres.KVTable).
		Msg("Connected to Postgres")

	o.postgres = st
	return st, nil
}

func (o *opener) badgerStore() (*badgerkv.Store, error) {
	logger := logging.ForStore(config.BackendBadger)
	bc := badgerkv.DefaultConfig(o.cfg.Badger.Path)
	if o.cfg.Badger.InMemory {
		bc = badgerkv.InMemoryConfig()
	}
	st, err := badgerkv.Open(bc, logger)
	if err != nil {
		return nil, err
	}
	o.b.closers = append(o.b.closers, st.Close)
	logger.Info().Str("path", bc.Path).Bool("in_memory", bc.InMemory).Msg("Opened BadgerDB")
	return st, nil
}

func (o *opener) blobStore(ctx context.Context) (*blobkv.Store, error) {
	st, err := blobkv.Open(ctx, o.cfg.Blob.URL, o.cfg.Blob.Prefix)
	if err != nil {
		return nil, err
	}
	o.b.closers = append(o.b.closers, st.Close)
	logger := logging.ForStore(config.BackendBlob)
	logger.Info().Str("url", o.cfg.Blob.URL).Msg("Opened bucket")
	return st, nil
}

