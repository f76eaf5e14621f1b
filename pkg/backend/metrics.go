package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	migratedObjects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babel_migrate_objects_total",
		Help: "Objects processed by migrations, by result",
	}, []string{"result"})

	migrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "babel_migrate_duration_seconds",
		Help:    "Wall time of whole migrations",
		Buckets: prometheus.DefBuckets,
	})
)
