// Package postgres provides Postgres-backed collection and KV stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sternrassler/crawl-dedup/pkg/store"
)

// maxPrealloc caps the capacity reserved for a FetchRange result.
const maxPrealloc = 1024

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	RecordsTable    string
	KVTable         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements store.CollectionStore and store.KV.
//
// Records live in one table keyed by collection_id and ordered by a bigserial
// seq column, so offsets are stable as long as the table is append-only.
type Store struct {
	pool         pool
	recordsTable string
	kvTable      string
}

var (
	_ store.CollectionStore = (*Store)(nil)
	_ store.KV              = (*Store)(nil)
)

// New connects a pgx pool using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	st, err := NewWithPool(p, cfg.RecordsTable, cfg.KVTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return st, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, recordsTable, kvTable string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if recordsTable == "" {
		recordsTable = "dedup_records"
	}
	if kvTable == "" {
		kvTable = "dedup_kv"
	}
	for _, table := range []string{recordsTable, kvTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: p, recordsTable: recordsTable, kvTable: kvTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the records and KV tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	collection_id TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.recordsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_collection_seq_idx ON %s (collection_id, seq)`, s.recordsTable, s.recordsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.kvTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ItemCount counts the records of a collection.
func (s *Store) ItemCount(ctx context.Context, collectionID string) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE collection_id = $1`, s.recordsTable)
	var n int64
	if err := s.pool.QueryRow(ctx, query, collectionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return int(n), nil
}

// FetchRange returns records in seq order.
func (s *Store) FetchRange(ctx context.Context, collectionID string, r store.Range) ([]store.Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.Limit == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT payload FROM %s WHERE collection_id = $1 ORDER BY seq LIMIT $2 OFFSET $3`, s.recordsTable)
	rows, err := s.pool.Query(ctx, query, collectionID, r.Limit, r.Offset)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	recs := make([]store.Record, 0, min(r.Limit, maxPrealloc))
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, store.Record(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return store.ProjectAll(recs, r.Fields)
}

// Append inserts one record at the end of the collection.
func (s *Store) Append(ctx context.Context, collectionID string, rec store.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (collection_id, payload) VALUES ($1, $2)`, s.recordsTable)
	if _, err := s.pool.Exec(ctx, query, collectionID, []byte(rec)); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get reads a KV value.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.kvTable)
	var value []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

// Set upserts a KV value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, s.kvTable)
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}
