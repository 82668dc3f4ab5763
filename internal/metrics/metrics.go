// Package metrics exposes Prometheus collectors for the change queue and the
// synchronizer.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgersync"

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Queue
	changesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_recorded_total",
			Help:      "Total number of changes appended to the offline queue.",
		},
		[]string{"entity_type"},
	)
	recordErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_errors_total",
			Help:      "Total number of changes that could not be queued.",
		},
	)
	pendingChanges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_changes",
			Help:      "Current number of unsynced changes in the offline queue.",
		},
	)

	// Sync
	changesSynced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_synced_total",
			Help:      "Total number of changes applied to the remote store.",
		},
		[]string{"entity_type"},
	)
	dispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Total number of failed dispatch attempts.",
		},
		[]string{"entity_type"},
	)
	changesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_dropped_total",
			Help:      "Total number of changes dropped from the queue without being applied.",
		},
		[]string{"entity_type", "reason"},
	)
	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Total number of last-write-wins decisions by resolution.",
		},
		[]string{"resolution"},
	)
	syncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Total number of sync pass attempts by outcome.",
		},
		[]string{"outcome"},
	)
	syncPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_pass_duration_seconds",
			Help:      "Duration of completed sync passes in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
	)
)

// Pass outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeOffline   = "offline"
	OutcomeError     = "error"
)

// Drop reasons.
const (
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonUnrecognized     = "unrecognized"
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,

			changesRecorded,
			recordErrors,
			pendingChanges,

			changesSynced,
			dispatchErrors,
			changesDropped,
			conflicts,
			syncPasses,
			syncPassDuration,
		)
		registerRedisMetrics()
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// --- HTTP ---
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	c := strconv.Itoa(code)
	httpRequests.WithLabelValues(method, route, c).Inc()
	httpDuration.WithLabelValues(method, route, c).Observe(d.Seconds())
}

// --- Queue ---
func IncRecorded(entityType string) { changesRecorded.WithLabelValues(entityType).Inc() }
func IncRecordError()               { recordErrors.Inc() }
func SetPendingChanges(n int) {
	if n < 0 {
		n = 0
	}
	pendingChanges.Set(float64(n))
}

// --- Sync ---
func IncSynced(entityType string)        { changesSynced.WithLabelValues(entityType).Inc() }
func IncDispatchError(entityType string) { dispatchErrors.WithLabelValues(entityType).Inc() }
func IncDropped(entityType, reason string) {
	changesDropped.WithLabelValues(entityType, reason).Inc()
}
func IncConflict(resolution string) { conflicts.WithLabelValues(resolution).Inc() }
func IncSyncPass(outcome string)    { syncPasses.WithLabelValues(outcome).Inc() }
func ObserveSyncPass(d time.Duration) {
	syncPassDuration.Observe(d.Seconds())
}
