// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelTrace logs storage engine internals and above.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used with NewLogger.
const (
	ComponentBulkLoad = "bulkload"
	ComponentLedger   = "ledger"
	ComponentDedup    = "dedup"
	ComponentFilter   = "filter"
	ComponentServer   = "dedupd"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
// Loggers capture the global logger at creation time, so call Setup first.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForStore returns a logger for a storage backend, tagged component=store/<backend>.
func ForStore(backend string) zerolog.Logger {
	return NewLogger("store/" + backend)
}

// Log Level Guidelines:
//
// Trace: Storage engine internals (badger compaction, value log GC)
//
// Debug: Detailed information for debugging
//   - Per-batch fetch results and worker lifecycle
//   - Individual lookups and marks (domain, identifier, seen)
//   - Ledger loads and flushes
//
// Info: Normal operation events
//   - Load start/finish with item counts and duration
//   - Fetch progress every 50 batches
//   - Batches skipped because the ledger marks them done
//   - Server startup/shutdown
//
// Warn: Conditions that slow callers down or were recovered from
//   - Domain cold-start loads (they block every caller for the domain)
//   - Store retry attempts
//   - Failed periodic ledger flushes (retried on the next tick)
//
// Error: Error conditions requiring attention
//   - Batch fetch failures (they abort the whole load)
//   - Domain load failures
//   - Wait timeouts
//   - Final ledger flush failures
//
// Context Fields:
//   - collection: collection ID
//   - offset, limit: global batch range
//   - items: records in a batch or load
//   - collection_total, total: running item counts
//   - domain: normalized domain
//   - identifier: path+query+fragment
//   - worker_id: fetch worker index
//   - duration: elapsed time
