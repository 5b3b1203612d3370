package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streamgate"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of sessions currently held by the registry.",
	})

	SessionEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_evictions_total",
		Help:      "Total session evictions by reason.",
	}, []string{"reason"})

	AcquireDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_acquire_duration_seconds",
		Help:      "Time from first request to metadata-ready session.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	})

	AcquireFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_acquire_failures_total",
		Help:      "Total failed session acquisitions by cause.",
	}, []string{"cause"})

	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Number of in-flight streaming responses.",
	})

	StreamBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_bytes_total",
		Help:      "Total bytes written to clients by source.",
	}, []string{"source"})

	StreamOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_outcomes_total",
		Help:      "Terminal states of streaming responses.",
	}, []string{"source", "outcome"})

	OrphansRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphan_storage_removed_total",
		Help:      "Total storage entries removed because no session owned them.",
	})

	OrphanSweepErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphan_sweep_errors_total",
		Help:      "Total failures while listing or deleting orphaned storage.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all sessions.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		SessionEvictionsTotal,
		AcquireDuration,
		AcquireFailuresTotal,
		ActiveConnections,
		StreamBytesTotal,
		StreamOutcomesTotal,
		OrphansRemovedTotal,
		OrphanSweepErrorsTotal,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
	)
}
