// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mediacache"

var (
	// FrameCacheLookupsTotal tracks image and audio cache lookups.
	// Labels:
	//   - kind: image, audio
	//   - result: hit, miss, error
	FrameCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_cache_lookups_total",
			Help:      "Total number of frame cache lookups",
		},
		[]string{"kind", "result"},
	)

	// DecodeDuration tracks how long decode workers take per frame.
	// Labels:
	//   - lane: urgent, precache, audio
	//   - result: success, error
	DecodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Frame decode duration",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"lane", "result"},
	)

	// PrecacheOutcomesTotal tracks what happened to each popped precache request.
	// Labels:
	//   - queue: playback, background
	//   - outcome: cached, stored, rejected, read_error, preserve_error, store_error, reader_error
	PrecacheOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "precache_outcomes_total",
			Help:      "Total number of precache requests by outcome",
		},
		[]string{"queue", "outcome"},
	)

	// PrecacheQueueLength tracks queued precache requests.
	// Labels:
	//   - queue: playback, background
	PrecacheQueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "precache_queue_length",
			Help:      "Number of queued precache requests",
		},
		[]string{"queue"},
	)

	// ReadersOpen tracks live source readers.
	ReadersOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "readers_open",
			Help:      "Number of open source readers",
		},
	)

	// ReaderEventsTotal tracks source reader lifecycle events.
	// Labels:
	//   - event: created, duplicate, pruned_age, pruned_count, retired, create_failed
	ReaderEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reader_events_total",
			Help:      "Total number of source reader lifecycle events",
		},
		[]string{"event"},
	)

	// DetailRequestsTotal tracks media detail and thumbnail requests.
	// Labels:
	//   - request: detail, thumbnail
	//   - result: success, error, cache_hit
	DetailRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detail_requests_total",
			Help:      "Total number of media detail and thumbnail requests",
		},
		[]string{"request", "result"},
	)

	// DetailStoreOperationsTotal tracks shared detail store operations.
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, success, error
	DetailStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detail_store_operations_total",
			Help:      "Total number of shared detail store operations",
		},
		[]string{"operation", "status"},
	)

	// DBQueriesTotal tracks database queries.
	// Labels:
	//   - query_type: select, upsert
	//   - table: media_status
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_queries_total",
			Help:      "Total number of database queries",
		},
		[]string{"query_type", "table"},
	)

	// StatusNotificationsTotal tracks status notifications sent to owners.
	// Labels:
	//   - status: MISSING, CORRUPT, UNSUPPORTED, UNREADABLE
	//   - result: success, error
	StatusNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_notifications_total",
			Help:      "Total number of media status notifications",
		},
		[]string{"status", "result"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal tracks API requests.
	// Labels:
	//   - method: HTTP method
	//   - route: chi route pattern
	//   - status: response status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks API latency.
	// Labels:
	//   - method: HTTP method
	//   - route: chi route pattern
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ProbeTasksTotal tracks probe tasks handled by the worker.
	// Labels:
	//   - result: success, error
	ProbeTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_tasks_total",
			Help:      "Total number of probe tasks processed",
		},
		[]string{"result"},
	)
)

// Frame cache lookup result constants.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

// Decode lane constants.
const (
	LaneUrgent   = "urgent"
	LanePrecache = "precache"
	LaneAudio    = "audio"
)

// Generic result constants.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultCacheHit = "cache_hit"
)

// Precache queue constants.
const (
	QueuePlayback   = "playback"
	QueueBackground = "background"
)

// Precache outcome constants.
const (
	PrecacheCached        = "cached"
	PrecacheStored        = "stored"
	PrecacheRejected      = "rejected"
	PrecacheReadError     = "read_error"
	PrecachePreserveError = "preserve_error"
	PrecacheStoreError    = "store_error"
	PrecacheReaderError   = "reader_error"
)

// Reader event constants.
const (
	ReaderCreated      = "created"
	ReaderDuplicate    = "duplicate"
	ReaderPrunedAge    = "pruned_age"
	ReaderPrunedCount  = "pruned_count"
	ReaderRetired      = "retired"
	ReaderCreateFailed = "create_failed"
)

// Detail request constants.
const (
	RequestDetail    = "detail"
	RequestThumbnail = "thumbnail"
)

// Detail store operation and status constants.
const (
	StoreOpGet       = "get"
	StoreOpSet       = "set"
	StoreOpDelete    = "delete"
	StoreStatusHit   = "hit"
	StoreStatusMiss  = "miss"
	StoreStatusOK    = "success"
	StoreStatusError = "error"
)

// DB query type constants.
const (
	DBQuerySelect = "select"
	DBQueryUpsert = "upsert"
)

// Table name constants.
const (
	TableMediaStatus = "media_status"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

// RegisterDBPool exposes connection pool gauges read from stats on every
// scrape.
func RegisterDBPool(stats func() (acquired, idle, total int32)) {
	for _, g := range []struct {
		name, help string
		pick       func(a, i, t int32) int32
	}{
		{"db_pool_acquired_conns", "Connections currently in use", func(a, _, _ int32) int32 { return a }},
		{"db_pool_idle_conns", "Idle connections in the pool", func(_, i, _ int32) int32 { return i }},
		{"db_pool_total_conns", "Total connections in the pool", func(_, _, t int32) int32 { return t }},
	} {
		pick := g.pick
		promauto.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      g.name,
				Help:      g.help,
			},
			func() float64 {
				return float64(pick(stats()))
			},
		)
	}
}
