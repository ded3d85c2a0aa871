// Package metrics exposes whip's runtime counters as Prometheus metrics
// and as the plain-text report served over STATUS_GET.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Client protocol metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whip_requests_total",
			Help: "Total client requests by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	BytesTransferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whip_bytes_transferred_total",
			Help: "Total payload bytes sent to clients",
		},
	)

	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whip_connections_active",
			Help: "Currently open client connections",
		},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whip_cache_hits_total",
			Help: "Total cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whip_cache_misses_total",
			Help: "Total cache misses",
		},
	)

	CacheBytesUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whip_cache_bytes_used",
			Help: "Current cache occupancy in bytes",
		},
	)

	// Disk worker metrics
	DiskQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whip_disk_queue_depth",
			Help: "Pending requests in the VFS backend queue",
		},
	)

	DiskOpDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whip_disk_op_duration_seconds",
			Help:    "Time spent handling a single client request, from decoded header to written response",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Intramesh metrics
	MeshRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whip_mesh_requests_total",
			Help: "Total intramesh search queries issued",
		},
	)

	MeshPositiveResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whip_mesh_positive_responses_total",
			Help: "Total positive (found) intramesh responses received",
		},
	)

	MeshBytesTransferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whip_mesh_bytes_transferred_total",
			Help: "Total bytes fetched from peers over the asset-service link",
		},
	)

	PeersOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whip_mesh_peers_online",
			Help: "Number of intramesh peers currently considered reachable",
		},
	)

	// Replication metrics
	ReplicationPulledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whip_replication_pulled_total",
			Help: "Total assets pulled from the replication master",
		},
	)

	ReplicationPushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whip_replication_pushed_total",
			Help: "Total assets pushed to the replication slave",
		},
	)

	ReplicationPushDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whip_replication_push_dropped_total",
			Help: "Total assets dropped from the push queue because it was full",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		BytesTransferred,
		ConnectionsActive,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheBytesUsed,
		DiskQueueDepth,
		DiskOpDuration,
		MeshRequestsTotal,
		MeshPositiveResponsesTotal,
		MeshBytesTransferred,
		PeersOnline,
		ReplicationPulledTotal,
		ReplicationPushedTotal,
		ReplicationPushDropped,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to the histogram
// selected by labels.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
