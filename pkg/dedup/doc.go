// Package dedup remembers which URLs were already processed, per domain,
// across runs and processes.
//
// Every domain has an append-only history collection named
// CollectionName(prefix, domain). The Cache loads a domain's history the
// first time the domain is queried and keeps it in memory for the rest of
// the process lifetime:
//
//   - Absent -> Loading: the first caller for a domain becomes its only loader
//   - Loading: other callers for the domain wait (default: up to one hour)
//   - Ready: lookups are in-memory set checks
//
// A failed load is returned to the loader and to every waiter, and the domain
// goes back to Absent so a later call retries.
//
// # Basic Usage
//
//	c := dedup.New(st, dedup.DefaultConfig())
//
//	seen, err := c.WasSeen(ctx, "https://www.example.com/news/1")
//	if err != nil {
//		return err
//	}
//	if !seen {
//		// process the page, then remember it
//		_, err = c.MarkSeen(ctx, "https://www.example.com/news/1")
//	}
//
// URLs are keyed by normalized domain (lowercase, no "www.") and
// path+query+fragment, so "https://Example.com/a" and "http://www.example.com/a"
// are the same entry.
//
// # Link Filtering
//
// Filter combines the same-domain check, the legacy GlobalSet and the Cache
// for links extracted from a crawled page:
//
//	f := dedup.NewFilter(c, nil)
//	fresh, err := f.Apply(ctx, links, dedup.FilterOptions{
//		OnlyInside:       true,
//		LoadedDomain:     "example.com",
//		OnlyNewPerDomain: true,
//	})
package dedup
