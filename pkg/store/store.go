// Package store defines the persistence collaborators used by the bulk loader
// and the dedup cache: ordered record collections, an append-only writer and a
// small key-value store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested key does not exist in a KV store.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidRange indicates a negative offset or limit was requested.
	ErrInvalidRange = errors.New("invalid range")
)

// Record is one opaque item of a collection, stored as a JSON object.
type Record = json.RawMessage

// Range selects a contiguous slice of a collection.
type Range struct {
	// Offset is the zero-based position of the first record.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int

	// Fields optionally restricts every returned record to these top-level keys.
	Fields []string
}

// Validate checks that the range is well formed.
func (r Range) Validate() error {
	if r.Offset < 0 || r.Limit < 0 {
		return fmt.Errorf("%w: offset=%d limit=%d", ErrInvalidRange, r.Offset, r.Limit)
	}
	return nil
}

// Collections provides read access to ordered, append-only collections.
// A collection that was never written to has zero items.
type Collections interface {
	// ItemCount returns the number of records in the collection.
	ItemCount(ctx context.Context, collectionID string) (int, error)

	// FetchRange returns records [Offset, Offset+Limit) in insertion order.
	// Fewer records are returned when the collection ends inside the range.
	FetchRange(ctx context.Context, collectionID string, r Range) ([]Record, error)
}

// Appender appends records to a collection.
type Appender interface {
	Append(ctx context.Context, collectionID string, rec Record) error
}

// CollectionStore is a backend that can both read and append.
type CollectionStore interface {
	Collections
	Appender
}

// KV is a persisted key-value store.
type KV interface {
	// Get returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Project keeps only the named top-level fields of rec.
// An empty field list returns rec unchanged.
func Project(rec Record, fields []string) (Record, error) {
	if len(fields) == 0 {
		return rec, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(rec, &obj); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	out := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		if v, ok := obj[f]; ok {
			out[f] = v
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// ProjectAll applies Project to every record.
func ProjectAll(recs []Record, fields []string) ([]Record, error) {
	if len(fields) == 0 {
		return recs, nil
	}
	out := make([]Record, len(recs))
	for i, rec := range recs {
		p, err := Project(rec, fields)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}
