package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject(t *testing.T) {
	rec := Record(`{"path":"/a","title":"A","n":1}`)

	got, err := Project(rec, []string{"path", "missing"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/a"}`, string(got))

	same, err := Project(rec, nil)
	require.NoError(t, err)
	assert.Equal(t, rec, same)

	_, err = Project(Record(`[1,2]`), []string{"path"})
	assert.Error(t, err)
}

func TestProjectAll(t *testing.T) {
	recs := []Record{Record(`{"a":1,"b":2}`), Record(`{"a":3}`)}
	got, err := ProjectAll(recs, []string{"b"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"b":2}`, string(got[0]))
	assert.JSONEq(t, `{}`, string(got[1]))
}

func TestRange_Validate(t *testing.T) {
	assert.NoError(t, Range{Offset: 0, Limit: 10}.Validate())
	assert.ErrorIs(t, Range{Offset: -1, Limit: 10}.Validate(), ErrInvalidRange)
	assert.ErrorIs(t, Range{Offset: 0, Limit: -5}.Validate(), ErrInvalidRange)
}

type flakyCollections struct {
	failures int
	err      error
	calls    int
}

func (f *flakyCollections) ItemCount(_ context.Context, _ string) (int, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, f.err
	}
	return 42, nil
}

func (f *flakyCollections) FetchRange(_ context.Context, _ string, r Range) ([]Record, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []Record{Record(`{"offset":1}`)}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyCollections{failures: 2, err: errors.New("connection reset")}
	c := WithRetry(inner, fastRetry())

	count, err := c.ItemCount(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, 42, count)
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetry_Exhausted(t *testing.T) {
	boom := errors.New("storage down")
	inner := &flakyCollections{failures: 10, err: boom}
	c := WithRetry(inner, fastRetry())

	_, err := c.FetchRange(context.Background(), "c", Range{Limit: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetry_NonRetryable(t *testing.T) {
	inner := &flakyCollections{failures: 10, err: context.Canceled}
	c := WithRetry(inner, fastRetry())

	_, err := c.ItemCount(context.Background(), "c")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRetry_CustomRetryable(t *testing.T) {
	permanent := errors.New("permission denied")
	cfg := fastRetry()
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	inner := &flakyCollections{failures: 10, err: permanent}
	_, err := WithRetry(inner, cfg).ItemCount(context.Background(), "c")
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, inner.calls)
}
