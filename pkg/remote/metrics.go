package remote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncObjects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babel_sync_objects_total",
		Help: "Objects handled by sync, by stage and result",
	}, []string{"stage", "result"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "babel_sync_duration_seconds",
		Help:    "Wall time of whole transfers",
		Buckets: prometheus.DefBuckets,
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babel_http_requests_total",
		Help: "Protocol requests served, by route, method and status",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "babel_http_request_duration_seconds",
		Help:    "Latency of protocol requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
