package dedup

import (
	"errors"
	"fmt"
)

// ErrMalformedIdentifier indicates a URL or key that cannot be split into
// domain and path+query+fragment. Such inputs never reach the cache.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// LoadError is returned when hydrating a domain from its history collection
// fails. The loader and every caller waiting on the same domain receive it.
type LoadError struct {
	Domain     string
	Collection string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load seen identifiers for %s from %s: %v", e.Domain, e.Collection, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
