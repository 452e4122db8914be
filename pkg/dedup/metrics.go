package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups tracks membership checks by result
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_lookups_total",
			Help: "Total number of seen-identifier lookups",
		},
		[]string{"result"}, // "hit", "miss"
	)

	// Marks tracks identifiers appended to a domain history
	Marks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_marks_total",
			Help: "Total number of identifiers persisted as seen",
		},
	)

	// DomainLoads tracks domain hydrations by result
	DomainLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_domain_loads_total",
			Help: "Total number of domain history loads",
		},
		[]string{"result"}, // "ok", "error"
	)

	// DomainLoadDuration tracks how long a domain hydration takes
	DomainLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dedup_domain_load_duration_seconds",
			Help:    "Duration of domain history loads",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		},
	)

	// DomainsCached tracks domains currently held by the cache
	DomainsCached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_domains_cached",
			Help: "Current number of domains in the dedup cache",
		},
	)
)
