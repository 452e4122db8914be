package dedup

import (
	"errors"
	"testing"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Key
	}{
		{
			name: "plain path",
			raw:  "https://example.com/a",
			want: Key{Domain: "example.com", Identifier: "/a"},
		},
		{
			name: "www prefix and host casing",
			raw:  "http://WWW.Example.COM/a",
			want: Key{Domain: "example.com", Identifier: "/a"},
		},
		{
			name: "query and fragment",
			raw:  "https://example.com/news/1?page=2&x=y#top",
			want: Key{Domain: "example.com", Identifier: "/news/1?page=2&x=y#top"},
		},
		{
			name: "empty path",
			raw:  "https://example.com",
			want: Key{Domain: "example.com", Identifier: "/"},
		},
		{
			name: "port is dropped",
			raw:  "https://example.com:8443/a",
			want: Key{Domain: "example.com", Identifier: "/a"},
		},
		{
			name: "escaped path is kept escaped",
			raw:  "https://example.com/a%20b",
			want: Key{Domain: "example.com", Identifier: "/a%20b"},
		},
		{
			name: "subdomain is kept",
			raw:  "https://news.example.com/a",
			want: Key{Domain: "news.example.com", Identifier: "/a"},
		},
		{
			name: "surrounding whitespace",
			raw:  "  https://example.com/a  ",
			want: Key{Domain: "example.com", Identifier: "/a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			if err != nil {
				t.Fatalf("ParseURL(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseURL(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseURL_Malformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"/relative/path",
		"not a url",
		"http://[::1",
		"mailto:someone",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseURL(raw)
			if !errors.Is(err, ErrMalformedIdentifier) {
				t.Errorf("ParseURL(%q) error = %v, want ErrMalformedIdentifier", raw, err)
			}
		})
	}
}

func TestCollectionName(t *testing.T) {
	tests := []struct {
		prefix string
		domain string
		want   string
	}{
		{"seen-", "example.com", "seen-example-com"},
		{"seen-", "news.example.co.uk", "seen-news-example-co-uk"},
		{"ARTICLES-SCRAPED-", "my-site.org", "ARTICLES-SCRAPED-my-site-org"},
		{"", "xn--bcher-kva.example", "xn--bcher-kva-example"},
	}
	for _, tt := range tests {
		if got := CollectionName(tt.prefix, tt.domain); got != tt.want {
			t.Errorf("CollectionName(%q, %q) = %q, want %q", tt.prefix, tt.domain, got, tt.want)
		}
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := map[string]string{
		"www.example.com":  "example.com",
		"WWW.EXAMPLE.COM":  "example.com",
		"example.com.":     "example.com",
		"wwwexample.com":   "wwwexample.com",
		"news.example.com": "news.example.com",
	}
	for in, want := range tests {
		if got := NormalizeDomain(in); got != want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", in, got, want)
		}
	}
}
