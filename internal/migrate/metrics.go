package migrate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"sync"
)

// Metrics holds the Migration Controller's Prometheus instruments. They
// are process-wide collectors (promauto registers them once), but each
// Controller gets its own *Metrics handle for symmetry with the rest of
// the core's constructors.
type Metrics struct {
	chunksMigrated  *prometheus.CounterVec
	recordsMigrated *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	chunksVec   *prometheus.CounterVec
	recordsVec  *prometheus.CounterVec
)

func newMetrics() *Metrics {
	metricsOnce.Do(func() {
		chunksVec = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketsinit_migration_chunks_total",
				Help: "Number of non-empty migration chunks written per model.",
			},
			[]string{"model"},
		)
		recordsVec = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketsinit_migration_records_total",
				Help: "Number of records migrated per model.",
			},
			[]string{"model"},
		)
	})
	return &Metrics{chunksMigrated: chunksVec, recordsMigrated: recordsVec}
}
