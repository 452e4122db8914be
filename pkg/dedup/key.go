package dedup

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultCollectionPrefix is prepended to the sanitized domain to name its history collection.
const DefaultCollectionPrefix = "seen-"

var unsafeDomainChars = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// Key identifies one URL inside the dedup cache.
type Key struct {
	// Domain is the normalized host (lowercase, no "www." prefix, no port)
	Domain string

	// Identifier is path+query+fragment, e.g. "/news/1?page=2#top"
	Identifier string
}

// ParseURL splits an absolute URL into its dedup key.
// Scheme and host variants that differ only by case or a "www." prefix map
// to the same key.
func ParseURL(raw string) (Key, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrMalformedIdentifier, raw, err)
	}
	domain := NormalizeDomain(u.Hostname())
	if domain == "" {
		return Key{}, fmt.Errorf("%w: %q has no host", ErrMalformedIdentifier, raw)
	}
	return Key{Domain: domain, Identifier: Identifier(u)}, nil
}

// Identifier returns the path+query+fragment part of u. An empty path becomes "/".
func Identifier(u *url.URL) string {
	var b strings.Builder
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if frag := u.EscapedFragment(); frag != "" {
		b.WriteByte('#')
		b.WriteString(frag)
	}
	return b.String()
}

// NormalizeDomain lowercases host and strips a leading "www.".
func NormalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	return strings.TrimPrefix(host, "www.")
}

// SanitizeDomain replaces every character outside [a-zA-Z0-9-] with '-'
// so the result is usable as a collection name.
func SanitizeDomain(domain string) string {
	return unsafeDomainChars.ReplaceAllString(domain, "-")
}

// CollectionName returns the history collection of a normalized domain.
//
// Example:
//
//	CollectionName("seen-", "example.com") == "seen-example-com"
func CollectionName(prefix, domain string) string {
	return prefix + SanitizeDomain(domain)
}

func (k Key) validate() error {
	if k.Domain == "" {
		return fmt.Errorf("%w: empty domain", ErrMalformedIdentifier)
	}
	if k.Identifier == "" {
		return fmt.Errorf("%w: empty identifier for domain %s", ErrMalformedIdentifier, k.Domain)
	}
	return nil
}
