package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	storeRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_store_retries_total",
		Help: "Total number of collection store retry attempts by operation",
	}, []string{"operation"})

	storeRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_store_retry_exhausted_total",
		Help: "Total number of collection store calls that exhausted their retries",
	}, []string{"operation"})
)

// ErrRetryExhausted is returned when all retry attempts failed.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryConfig holds the configuration for collaborator-level retries.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first call).
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the backoff after each failed attempt.
	BackoffMultiplier float64

	// Retryable decides whether an error is worth another attempt.
	// Defaults to everything except context cancellation and invalid ranges.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func defaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrInvalidRange)
}

type retryingCollections struct {
	inner  Collections
	config RetryConfig
}

// WithRetry wraps a Collections backend so that ItemCount and FetchRange are
// retried with exponential backoff. The bulk loader itself never retries.
func WithRetry(inner Collections, cfg RetryConfig) Collections {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	if cfg.Retryable == nil {
		cfg.Retryable = defaultRetryable
	}
	return &retryingCollections{inner: inner, config: cfg}
}

func (r *retryingCollections) ItemCount(ctx context.Context, collectionID string) (int, error) {
	var count int
	err := r.retry(ctx, "item_count", func() error {
		var err error
		count, err = r.inner.ItemCount(ctx, collectionID)
		return err
	})
	return count, err
}

func (r *retryingCollections) FetchRange(ctx context.Context, collectionID string, rg Range) ([]Record, error) {
	var recs []Record
	err := r.retry(ctx, "fetch_range", func() error {
		var err error
		recs, err = r.inner.FetchRange(ctx, collectionID, rg)
		return err
	})
	return recs, err
}

// retry executes fn with exponential backoff and ±20% jitter.
func (r *retryingCollections) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("operation", operation).
					Int("attempt", attempt).
					Msg("Store call succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !r.config.Retryable(err) {
			return err
		}
		if attempt >= r.config.MaxAttempts {
			break
		}

		storeRetriesTotal.WithLabelValues(operation).Inc()

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		log.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying store call after backoff")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
		if r.config.MaxBackoff > 0 && backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}

	storeRetryExhaustedTotal.WithLabelValues(operation).Inc()
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, r.config.MaxAttempts, lastErr)
}
