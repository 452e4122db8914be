// Package waiter blocks until a condition holds or a timeout elapses.
//
// Until polls an arbitrary predicate. ForSignal waits on a channel that is
// closed when the condition becomes true, which avoids polling when the
// producer can signal completion directly.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultTimeout bounds a wait when Options.Timeout is zero.
	DefaultTimeout = 120 * time.Second

	// DefaultPollInterval spaces predicate evaluations when Options.PollInterval is zero.
	DefaultPollInterval = time.Second
)

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("wait timed out")

// TimeoutError reports how long a caller waited before giving up.
type TimeoutError struct {
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wait timed out after %s (timeout %s)", e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) true for any *TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Options configures a wait.
type Options struct {
	// Timeout is the maximum time to wait (default: 120s)
	Timeout time.Duration

	// PollInterval is the spacing between predicate evaluations (default: 1s)
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Predicate reports whether the awaited condition holds. It may perform I/O
// and is evaluated many times, so it should be cheap and idempotent.
type Predicate func(ctx context.Context) (bool, error)

// Condition adapts a plain boolean check to a Predicate.
func Condition(fn func() bool) Predicate {
	return func(context.Context) (bool, error) {
		return fn(), nil
	}
}

// Until evaluates pred immediately and then every PollInterval. It returns
// nil as soon as pred reports true, the predicate's error if it fails, a
// *TimeoutError once more than Timeout has elapsed, or ctx.Err() when the
// context ends first.
func Until(ctx context.Context, pred Predicate, opts Options) error {
	opts = opts.withDefaults()
	start := time.Now()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := pred(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if elapsed := time.Since(start); elapsed > opts.Timeout {
			WaitTimeouts.Inc()
			return &TimeoutError{Elapsed: elapsed, Timeout: opts.Timeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ForSignal blocks until done is closed, the timeout elapses or ctx ends.
// A non-positive timeout selects DefaultTimeout.
func ForSignal(ctx context.Context, done <-chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Already signalled: no timer needed.
	select {
	case <-done:
		return nil
	default:
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		WaitTimeouts.Inc()
		return &TimeoutError{Elapsed: time.Since(start), Timeout: timeout}
	}
}
