package dedup

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/crawl-dedup/pkg/logging"
)

// FilterOptions selects which filters Apply runs.
type FilterOptions struct {
	// OnlyInside keeps links whose domain equals LoadedDomain.
	OnlyInside bool

	// LoadedDomain is the domain of the page the links were found on.
	// OnlyInside is ignored when it is empty.
	LoadedDomain string

	// OnlyNewGlobal drops links present in the global set.
	OnlyNewGlobal bool

	// OnlyNewPerDomain drops links the domain cache has seen.
	OnlyNewPerDomain bool
}

// Filter narrows extracted links down to the ones worth crawling.
type Filter struct {
	cache  *Cache
	global *GlobalSet
	logger zerolog.Logger
}

// NewFilter creates a filter. Either argument may be nil when the
// corresponding option is never enabled.
func NewFilter(cache *Cache, global *GlobalSet) *Filter {
	return &Filter{
		cache:  cache,
		global: global,
		logger: logging.NewLogger(logging.ComponentFilter),
	}
}

// Apply runs the enabled filters in order: same domain, global set, then
// per-domain cache. Malformed links are dropped. The first call for a new
// domain may block while its history loads.
func (f *Filter) Apply(ctx context.Context, links []string, opts FilterOptions) ([]string, error) {
	type parsedLink struct {
		raw string
		key Key
	}

	parsed := make([]parsedLink, 0, len(links))
	for _, link := range links {
		k, err := ParseURL(link)
		if err != nil {
			f.logger.Debug().Err(err).Str("url", link).Msg("Dropping malformed link")
			continue
		}
		parsed = append(parsed, parsedLink{raw: link, key: k})
	}

	if opts.OnlyInside && opts.LoadedDomain != "" {
		loaded := NormalizeDomain(opts.LoadedDomain)
		kept := parsed[:0]
		for _, l := range parsed {
			if l.key.Domain == loaded {
				kept = append(kept, l)
			}
		}
		parsed = kept
		f.logger.Info().Int("links", len(parsed)).Msg("Links inside loaded domain")
	}

	if opts.OnlyNewGlobal && f.global != nil {
		kept := parsed[:0]
		for _, l := range parsed {
			if !f.global.Has(l.raw) {
				kept = append(kept, l)
			}
		}
		parsed = kept
		f.logger.Info().Int("links", len(parsed)).Msg("Links after global state filter")
	}

	if opts.OnlyNewPerDomain && f.cache != nil {
		kept := parsed[:0]
		for _, l := range parsed {
			seen, err := f.cache.WasSeenKey(ctx, l.key)
			if err != nil {
				return nil, err
			}
			if !seen {
				kept = append(kept, l)
			}
		}
		parsed = kept
		f.logger.Info().Int("links", len(parsed)).Msg("Links after per-domain seen filter")
	}

	out := make([]string, len(parsed))
	for i, l := range parsed {
		out[i] = l.raw
	}
	return out, nil
}
