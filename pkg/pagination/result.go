package pagination

import "github.com/Sternrassler/crawl-dedup/pkg/store"

// Result holds the records of a Collect call, ordered by collection and batch.
type Result struct {
	collectionIDs []string
	// batches[collection][slot] holds the records of one batch.
	batches [][][]store.Record
}

func newResult(ids []string, slotsPerCollection []int) *Result {
	r := &Result{
		collectionIDs: append([]string(nil), ids...),
		batches:       make([][][]store.Record, len(ids)),
	}
	for i, n := range slotsPerCollection {
		r.batches[i] = make([][]store.Record, n)
	}
	return r
}

// CollectionIDs returns the collections in load order.
func (r *Result) CollectionIDs() []string {
	return r.collectionIDs
}

// Len returns the total number of records.
func (r *Result) Len() int {
	n := 0
	for _, coll := range r.batches {
		for _, b := range coll {
			n += len(b)
		}
	}
	return n
}

// Flatten returns every record in collection order, then batch order.
func (r *Result) Flatten() []store.Record {
	out := make([]store.Record, 0, r.Len())
	for _, coll := range r.batches {
		for _, b := range coll {
			out = append(out, b...)
		}
	}
	return out
}

// PerCollection returns one flat record slice per collection.
func (r *Result) PerCollection() [][]store.Record {
	out := make([][]store.Record, len(r.batches))
	for i, coll := range r.batches {
		items := make([]store.Record, 0)
		for _, b := range coll {
			items = append(items, b...)
		}
		out[i] = items
	}
	return out
}

// Batches returns the batches of all collections as one list, keeping batch boundaries.
func (r *Result) Batches() [][]store.Record {
	var out [][]store.Record
	for _, coll := range r.batches {
		out = append(out, coll...)
	}
	return out
}

// Nested returns records grouped by collection, then by batch.
func (r *Result) Nested() [][][]store.Record {
	return r.batches
}
