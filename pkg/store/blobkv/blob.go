// Package blobkv provides a store.KV that keeps one object per key in a
// gocloud.dev bucket (mem://, file:// or gs:// URLs).
package blobkv

import (
	"context"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/gcsblob"  // gs:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	"gocloud.dev/gcerrors"

	"github.com/Sternrassler/crawl-dedup/pkg/store"
)

// Store is a store.KV over a blob bucket.
type Store struct {
	bucket *blob.Bucket
	prefix string
}

var _ store.KV = (*Store)(nil)

// Open opens the bucket at url. Keys are stored as <prefix><key>.json.
func Open(ctx context.Context, url, prefix string) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("bucket url is required")
	}
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	return New(bucket, prefix), nil
}

// New wraps an already opened bucket.
func New(bucket *blob.Bucket, prefix string) *Store {
	return &Store{bucket: bucket, prefix: prefix}
}

// Close closes the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func (s *Store) objectName(key string) string {
	return s.prefix + key + ".json"
}

// Get returns store.ErrNotFound when the object does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.objectName(key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Set overwrites the object for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := s.bucket.WriteAll(ctx, s.objectName(key), value, opts); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	return nil
}
