// Package config loads and validates dedupd configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/crawl-dedup/pkg/dedup"
)

// Collection store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendBlob     = "blob"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Badger   BadgerConfig   `mapstructure:"badger"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Store    StoreConfig    `mapstructure:"store"`
	Loader   LoaderConfig   `mapstructure:"loader"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	RecordsTable string `mapstructure:"records_table"`
	KVTable      string `mapstructure:"kv_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// BadgerConfig configures the embedded KV store.
type BadgerConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// BlobConfig configures the bucket-backed KV store.
type BlobConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// StoreConfig selects the backends.
type StoreConfig struct {
	// Collections is one of memory, redis, postgres.
	Collections string `mapstructure:"collections"`

	// KV is one of memory, redis, postgres, badger, blob.
	KV string `mapstructure:"kv"`

	// Retries wraps collection reads in exponential backoff when > 1.
	Retries int `mapstructure:"retries"`
}

// LoaderConfig tunes bulk loads.
type LoaderConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	Concurrency   int           `mapstructure:"concurrency"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	LedgerKey     string        `mapstructure:"ledger_key"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
}

// DedupConfig tunes the domain cache and the global set.
type DedupConfig struct {
	CollectionPrefix string        `mapstructure:"collection_prefix"`
	IdentifierField  string        `mapstructure:"identifier_field"`
	BatchSize        int           `mapstructure:"batch_size"`
	WaitTimeout      time.Duration `mapstructure:"wait_timeout"`
	MarkPolicy       string        `mapstructure:"mark_policy"`
	GlobalEnabled    bool          `mapstructure:"global_enabled"`
	GlobalCollection string        `mapstructure:"global_collection"`
	GlobalMaxItems   int           `mapstructure:"global_max_items"`
}

// Load builds a Config from an optional file and DEDUP_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEDUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key needs a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.records_table", "dedup_records")
	v.SetDefault("postgres.kv_table", "dedup_kv")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.ensure_schema", true)
	v.SetDefault("badger.path", "data/badger")
	v.SetDefault("badger.in_memory", false)
	v.SetDefault("blob.url", "")
	v.SetDefault("blob.prefix", "dedup/")
	v.SetDefault("store.collections", BackendMemory)
	v.SetDefault("store.kv", BackendMemory)
	v.SetDefault("store.retries", 3)
	v.SetDefault("loader.batch_size", 50000)
	v.SetDefault("loader.concurrency", 20)
	v.SetDefault("loader.flush_interval", "15s")
	v.SetDefault("loader.ledger_key", "bulkload:ledger")
	v.SetDefault("loader.fetch_timeout", "0s")
	v.SetDefault("dedup.collection_prefix", dedup.DefaultCollectionPrefix)
	v.SetDefault("dedup.identifier_field", dedup.DefaultIdentifierField)
	v.SetDefault("dedup.batch_size", dedup.DefaultLoadBatchSize)
	v.SetDefault("dedup.wait_timeout", "1h")
	v.SetDefault("dedup.mark_policy", "serialized")
	v.SetDefault("dedup.global_enabled", false)
	v.SetDefault("dedup.global_collection", dedup.DefaultGlobalCollection)
	v.SetDefault("dedup.global_max_items", dedup.DefaultGlobalMaxItems)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Store.Collections {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("store.collections must be one of memory, redis, postgres; got %q", c.Store.Collections)
	}
	switch c.Store.KV {
	case BackendMemory, BackendRedis, BackendPostgres, BackendBadger, BackendBlob:
	default:
		return fmt.Errorf("store.kv must be one of memory, redis, postgres, badger, blob; got %q", c.Store.KV)
	}
	if c.uses(BackendPostgres) && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn must be set when a postgres backend is selected")
	}
	if c.uses(BackendRedis) && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when a redis backend is selected")
	}
	if c.Store.KV == BackendBlob && c.Blob.URL == "" {
		return fmt.Errorf("blob.url must be set when store.kv is blob")
	}
	if c.Store.KV == BackendBadger && !c.Badger.InMemory && c.Badger.Path == "" {
		return fmt.Errorf("badger.path must be set unless badger.in_memory is true")
	}
	if c.Loader.BatchSize <= 0 {
		return fmt.Errorf("loader.batch_size must be > 0")
	}
	if c.Loader.Concurrency <= 0 {
		return fmt.Errorf("loader.concurrency must be > 0")
	}
	if c.Loader.FlushInterval <= 0 {
		return fmt.Errorf("loader.flush_interval must be > 0")
	}
	if c.Dedup.BatchSize <= 0 {
		return fmt.Errorf("dedup.batch_size must be > 0")
	}
	if c.Dedup.WaitTimeout <= 0 {
		return fmt.Errorf("dedup.wait_timeout must be > 0")
	}
	if _, err := dedup.ParseMarkPolicy(c.Dedup.MarkPolicy); err != nil {
		return fmt.Errorf("dedup.mark_policy: %w", err)
	}
	if c.Dedup.GlobalEnabled && c.Dedup.GlobalMaxItems <= 0 {
		return fmt.Errorf("dedup.global_max_items must be > 0 when the global set is enabled")
	}
	return nil
}

func (c Config) uses(backend string) bool {
	return c.Store.Collections == backend || c.Store.KV == backend
}

// CacheConfig converts the dedup section into a dedup.Config.
func (c Config) CacheConfig() dedup.Config {
	policy, _ := dedup.ParseMarkPolicy(c.Dedup.MarkPolicy)
	return dedup.Config{
		CollectionPrefix: c.Dedup.CollectionPrefix,
		IdentifierField:  c.Dedup.IdentifierField,
		BatchSize:        c.Dedup.BatchSize,
		Concurrency:      c.Loader.Concurrency,
		WaitTimeout:      c.Dedup.WaitTimeout,
		MarkPolicy:       policy,
	}
}
