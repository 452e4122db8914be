package redisstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations tracks Redis calls by operation
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_redis_operations_total",
			Help: "Total number of Redis store operations",
		},
		[]string{"operation"}, // "llen", "lrange", "rpush", "get", "set"
	)

	// Errors tracks failed Redis calls by operation
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_redis_errors_total",
			Help: "Total number of failed Redis store operations",
		},
		[]string{"operation"},
	)
)
