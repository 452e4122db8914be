package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/crawl-dedup/pkg/store"
)

func TestStore_Collections(t *testing.T) {
	ctx := context.Background()
	s := New()

	count, err := s.ItemCount(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, count)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, "c", store.Record(fmt.Sprintf(`{"i":%d,"x":"y"}`, i))))
	}

	count, err = s.ItemCount(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	recs, err := s.FetchRange(ctx, "c", store.Range{Offset: 3, Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.JSONEq(t, `{"i":3,"x":"y"}`, string(recs[0]))

	recs, err = s.FetchRange(ctx, "c", store.Range{Offset: 1, Limit: 1, Fields: []string{"i"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.JSONEq(t, `{"i":1}`, string(recs[0]))

	recs, err = s.FetchRange(ctx, "c", store.Range{Offset: 50, Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = s.FetchRange(ctx, "c", store.Range{Offset: -1, Limit: 1})
	assert.ErrorIs(t, err, store.ErrInvalidRange)
}

func TestStore_KV(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	require.NoError(t, s.Set(ctx, "k", []byte("v2")))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(v))
}

func TestStore_Seed(t *testing.T) {
	s := New()
	s.Seed("c", []store.Record{store.Record(`{"a":1}`)})
	count, err := s.ItemCount(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
