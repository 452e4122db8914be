package pagination

import "fmt"

// FetchError is returned when fetching one batch fails. It aborts the whole load.
type FetchError struct {
	CollectionID string
	Offset       int
	Limit        int
	Err          error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch batch %s offset=%d limit=%d: %v", e.CollectionID, e.Offset, e.Limit, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ProcessError is returned when a streaming consumer rejects a batch.
type ProcessError struct {
	CollectionID string
	Offset       int
	Err          error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process batch %s offset=%d: %v", e.CollectionID, e.Offset, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
