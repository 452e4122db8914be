package waiter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WaitTimeouts tracks waits that gave up
var WaitTimeouts = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "dedup_wait_timeouts_total",
		Help: "Total number of waits that exceeded their timeout",
	},
)
