package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsLeased = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "babel_pool_sessions_leased",
		Help: "Sessions currently holding a pooled connection",
	})

	poolWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "babel_pool_wait_seconds",
		Help:    "Time spent waiting for a pooled connection",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	poolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "babel_pool_timeouts_total",
		Help: "Session requests that gave up waiting for a connection",
	})

	writeTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babel_pool_write_transactions_total",
		Help: "Write transactions by outcome",
	}, []string{"outcome"})
)
