package pagination

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidWindow indicates a window with a negative offset or a non-positive limit.
var ErrInvalidWindow = errors.New("invalid load window")

// Window is the global [Offset, Offset+Limit) slice of a collection a caller wants.
// The zero Window selects the whole collection.
type Window struct {
	Offset int
	Limit  int
}

// WholeCollection selects every record regardless of collection size.
var WholeCollection = Window{Offset: 0, Limit: math.MaxInt}

// IsZero reports whether w is the zero value.
func (w Window) IsZero() bool {
	return w.Offset == 0 && w.Limit == 0
}

// Validate checks Offset >= 0 and Limit > 0. The zero Window is valid.
func (w Window) Validate() error {
	if w.IsZero() {
		return nil
	}
	if w.Offset < 0 || w.Limit <= 0 {
		return fmt.Errorf("%w: offset=%d limit=%d", ErrInvalidWindow, w.Offset, w.Limit)
	}
	return nil
}

func (w Window) normalize() Window {
	if w.IsZero() {
		return WholeCollection
	}
	return w
}

// End returns Offset+Limit, saturating at math.MaxInt.
func (w Window) End() int {
	return saturatingAdd(w.Offset, w.Limit)
}

// LocalWindow is the part of a batch to request, relative to the batch start.
type LocalWindow struct {
	Offset int
	Limit  int
}

// ComputeOverlap intersects window w with the batch [batchStart, batchStart+batchSize).
// It returns false when the two ranges are disjoint. Otherwise the returned
// offset is relative to batchStart and the limit is the exact number of
// records of the batch that fall inside the window.
func ComputeOverlap(w Window, batchStart, batchSize int) (LocalWindow, bool) {
	batchEnd := saturatingAdd(batchStart, batchSize)
	windowEnd := w.End()

	if w.Offset >= batchEnd || windowEnd <= batchStart {
		return LocalWindow{}, false
	}

	var limit int
	switch {
	case windowEnd >= batchEnd && w.Offset < batchStart:
		limit = batchSize
	case windowEnd >= batchEnd:
		limit = batchEnd - w.Offset
	case w.Offset < batchStart:
		limit = windowEnd - batchStart
	default:
		limit = windowEnd - w.Offset
	}

	return LocalWindow{
		Offset: max(batchStart, w.Offset) - batchStart,
		Limit:  limit,
	}, true
}

// BatchDescriptor describes one fetchable chunk of a named collection.
type BatchDescriptor struct {
	// CollectionID names the collection the batch belongs to.
	CollectionID string

	// CollectionOrdinal is the position of the collection in the caller's list.
	CollectionOrdinal int

	// Sequence is the batch index inside the collection (batch start = Sequence*batchSize).
	Sequence int

	// BatchStart is the global offset of the first record of the batch.
	BatchStart int

	// Local is the slice of the batch to request.
	Local LocalWindow
}

// Offset returns the global offset of the first record to request.
func (b BatchDescriptor) Offset() int {
	return b.BatchStart + b.Local.Offset
}

// Limit returns the number of records to request.
func (b BatchDescriptor) Limit() int {
	return b.Local.Limit
}

func (b BatchDescriptor) String() string {
	return fmt.Sprintf("%s#%d[%d,+%d)", b.CollectionID, b.Sequence, b.Offset(), b.Limit())
}

// PlanBatches enumerates the batches of a collection of collectionSize records
// that intersect w, in ascending sequence order.
func PlanBatches(collectionID string, ordinal, collectionSize, batchSize int, w Window) []BatchDescriptor {
	if collectionSize <= 0 || batchSize <= 0 {
		return nil
	}
	w = w.normalize()

	numBatches := (collectionSize + batchSize - 1) / batchSize
	var out []BatchDescriptor
	for i := 0; i < numBatches; i++ {
		start := i * batchSize
		local, ok := ComputeOverlap(w, start, batchSize)
		if !ok {
			continue
		}
		out = append(out, BatchDescriptor{
			CollectionID:      collectionID,
			CollectionOrdinal: ordinal,
			Sequence:          i,
			BatchStart:        start,
			Local:             local,
		})
	}
	return out
}

// Scope decides how a Window applies to several collections.
type Scope int

const (
	// ScopePerCollection applies the same window to every collection.
	ScopePerCollection Scope = iota

	// ScopeCombined lays the collections end to end and applies the window
	// to the combined sequence.
	ScopeCombined
)

func (s Scope) String() string {
	switch s {
	case ScopePerCollection:
		return "per_collection"
	case ScopeCombined:
		return "combined"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope accepts "per_collection" and "combined".
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "per_collection":
		return ScopePerCollection, nil
	case "combined":
		return ScopeCombined, nil
	default:
		return 0, fmt.Errorf("unknown scope %q", s)
	}
}

// collectionWindow translates a combined-scope window into the coordinates of
// a collection that starts at global position base and holds size records.
func collectionWindow(w Window, base, size int) (Window, bool) {
	w = w.normalize()
	localOffset := max(0, w.Offset-base)
	end := min(w.End(), saturatingAdd(base, size)) - base
	if end <= localOffset {
		return Window{}, false
	}
	return Window{Offset: localOffset, Limit: end - localOffset}, true
}

func saturatingAdd(a, b int) int {
	if b > 0 && a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}
