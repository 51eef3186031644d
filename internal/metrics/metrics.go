// file: internal/metrics/metrics.go
// version: 2.0.0
// guid: 9f8e7d6c-5b4a-3210-9fed-cba876543210

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dj_tagger"

var (
	registerOnce sync.Once

	operationStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_started_total",
		Help:      "Total number of operations started by type",
	}, []string{"type"})
	operationCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_completed_total",
		Help:      "Total number of operations run to completion by type",
	}, []string{"type"})
	operationFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_failed_total",
		Help:      "Total number of operations that ended with an error by type",
	}, []string{"type"})
	operationCanceled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_canceled_total",
		Help:      "Total number of operations stopped early by type",
	}, []string{"type"})
	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Histogram of operation durations in seconds by type",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16), // 50ms up to roughly half a day
	}, []string{"type"})

	extractions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fingerprint_extractions_total",
		Help:      "Fingerprint extractions by result (success or failure kind)",
	}, []string{"result"})
	extractionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fingerprint_extraction_duration_seconds",
		Help:      "Time spent computing a single fingerprint",
		Buckets:   prometheus.ExponentialBuckets(0.1, 1.8, 10),
	})
	workersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fingerprint_workers_busy",
		Help:      "Number of fingerprint workers currently running an extraction",
	})

	tracksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracks_total",
		Help:      "Current total number of tracks in the catalog",
	})
	fingerprintsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fingerprints_total",
		Help:      "Current number of tracks with a stored fingerprint",
	})
	duplicateGroupsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "duplicate_groups",
		Help:      "Number of duplicate groups found by the last grouping",
	})
	reclaimableBytesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "duplicate_reclaimable_bytes",
		Help:      "Bytes freed by deleting every non-canonical duplicate",
	})
	deletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "track_deletions_total",
		Help:      "Track file deletions by outcome",
	}, []string{"outcome"})
	invalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fingerprint_invalidations_total",
		Help:      "Fingerprint records removed because their file changed",
	})

	memoryAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_memory_alloc_bytes",
		Help:      "Current process memory allocation (runtime.Alloc)",
	})
	goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_goroutines",
		Help:      "Number of currently running goroutines",
	})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			operationStarted, operationCompleted, operationFailed, operationCanceled, operationDuration,
			extractions, extractionDuration, workersBusy,
			tracksGauge, fingerprintsGauge, duplicateGroupsGauge, reclaimableBytesGauge,
			deletions, invalidations,
			memoryAllocGauge, goroutinesGauge,
		)
	})
}

// Operation lifecycle helpers
func IncOperationStarted(opType string)   { operationStarted.WithLabelValues(opType).Inc() }
func IncOperationCompleted(opType string) { operationCompleted.WithLabelValues(opType).Inc() }
func IncOperationFailed(opType string)    { operationFailed.WithLabelValues(opType).Inc() }
func IncOperationCanceled(opType string)  { operationCanceled.WithLabelValues(opType).Inc() }
func ObserveOperationDuration(opType string, d time.Duration) {
	operationDuration.WithLabelValues(opType).Observe(d.Seconds())
}

// Fingerprinting
func IncExtraction(result string)               { extractions.WithLabelValues(result).Inc() }
func ObserveExtractionDuration(d time.Duration) { extractionDuration.Observe(d.Seconds()) }
func WorkerBusy()                               { workersBusy.Inc() }
func WorkerIdle()                               { workersBusy.Dec() }

// Catalog and duplicates
func SetTracks(n int)             { tracksGauge.Set(float64(n)) }
func SetFingerprints(n int)       { fingerprintsGauge.Set(float64(n)) }
func SetDuplicateGroups(n int)    { duplicateGroupsGauge.Set(float64(n)) }
func SetReclaimableBytes(b int64) { reclaimableBytesGauge.Set(float64(b)) }
func IncDeletion(outcome string)  { deletions.WithLabelValues(outcome).Inc() }
func AddInvalidations(n int)      { invalidations.Add(float64(n)) }

// Process
func SetMemoryAlloc(b uint64) { memoryAllocGauge.Set(float64(b)) }
func SetGoroutines(n int)     { goroutinesGauge.Set(float64(n)) }
