// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracker.
type Metrics struct {
	// Ingestion metrics
	EventsDecoded    *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	DuplicatesSeen   *prometheus.CounterVec
	BackupPollTrades prometheus.Counter

	// Fan-out metrics
	NotificationsSent    *prometheus.CounterVec
	NotificationsSkipped *prometheus.CounterVec
	FanoutDuration       prometheus.Histogram
	SubscriberCount      prometheus.Gauge

	// Feed metrics
	FeedReconnects   *prometheus.CounterVec
	FeedConnected    *prometheus.GaugeVec
	FeedMessages     *prometheus.CounterVec
	WalletSubsActive prometheus.Gauge

	// Provider metrics
	ProviderLatency *prometheus.HistogramVec
	ProviderErrors  *prometheus.CounterVec
	ProviderHealthy *prometheus.GaugeVec

	// Portfolio metrics
	PortfolioSyncs        *prometheus.CounterVec
	PortfolioSyncDuration prometheus.Histogram

	// Cache metrics
	CacheSize *prometheus.GaugeVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastPoolRefresh  prometheus.Gauge
	LastPriceRefresh prometheus.Gauge
	SchedulerRuns    *prometheus.CounterVec
	UptimeSeconds    prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dlmm_tracker"
	}

	return &Metrics{
		// Ingestion metrics
		EventsDecoded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_decoded_total",
			Help:      "Total number of feed messages decoded by event type and confidence",
		}, []string{"event_type", "confidence"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_dropped_total",
			Help:      "Total number of feed messages dropped by reason",
		}, []string{"reason"}),
		DuplicatesSeen: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duplicates_seen_total",
			Help:      "Total number of signatures deduplicated by source",
		}, []string{"source"}),
		BackupPollTrades: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "backup_poll_trades_total",
			Help:      "Total number of trades injected by the backup poller",
		}),

		// Fan-out metrics
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "notifications_sent_total",
			Help:      "Total number of sink deliveries by result status",
		}, []string{"status"}),
		NotificationsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "notifications_skipped_total",
			Help:      "Total number of recipients skipped by reason",
		}, []string{"reason"}),
		FanoutDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of one event dispatch across all recipients",
			Buckets:   prometheus.DefBuckets,
		}),
		SubscriberCount: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Current number of known subscribers",
		}),

		// Feed metrics
		FeedReconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "reconnects_total",
			Help:      "Total number of WebSocket reconnect attempts by feed",
		}, []string{"feed"}),
		FeedConnected: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "connected",
			Help:      "Whether a feed currently holds an open connection",
		}, []string{"feed"}),
		FeedMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "messages_total",
			Help:      "Total number of frames received by feed",
		}, []string{"feed"}),
		WalletSubsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "wallet_subscriptions",
			Help:      "Current number of active logsSubscribe subscriptions",
		}),

		// Provider metrics
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "providers",
			Name:      "request_latency_seconds",
			Help:      "Upstream request latency by provider",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "providers",
			Name:      "request_errors_total",
			Help:      "Total number of upstream request failures by provider",
		}, []string{"provider"}),
		ProviderHealthy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "providers",
			Name:      "healthy",
			Help:      "Whether a provider passed its last health probe",
		}, []string{"provider"}),

		// Portfolio metrics
		PortfolioSyncs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "syncs_total",
			Help:      "Total number of portfolio syncs by trigger and status",
		}, []string{"trigger", "status"}),
		PortfolioSyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "sync_duration_seconds",
			Help:      "Portfolio sync duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		// Cache metrics
		CacheSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of entries by cache",
		}, []string{"cache"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastPoolRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_pool_refresh_timestamp",
			Help:      "Unix timestamp of the last successful pool snapshot refresh",
		}),
		LastPriceRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_price_refresh_timestamp",
			Help:      "Unix timestamp of the last successful price refresh",
		}),
		SchedulerRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total number of scheduled job runs by job and status",
		}, []string{"job", "status"}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventDecoded increments the decoded-events counter.
func RecordEventDecoded(eventType, confidence string) {
	DefaultMetrics.EventsDecoded.WithLabelValues(eventType, confidence).Inc()
}

// RecordEventDropped records a dropped feed message.
func RecordEventDropped(reason string) {
	DefaultMetrics.EventsDropped.WithLabelValues(reason).Inc()
}

// RecordDuplicate records a deduplicated signature.
func RecordDuplicate(source string) {
	DefaultMetrics.DuplicatesSeen.WithLabelValues(source).Inc()
}

// RecordNotification records one sink delivery result.
func RecordNotification(status string) {
	DefaultMetrics.NotificationsSent.WithLabelValues(status).Inc()
}

// RecordFeedReconnect records a reconnect attempt for a feed.
func RecordFeedReconnect(feed string) {
	DefaultMetrics.FeedReconnects.WithLabelValues(feed).Inc()
}

// SetFeedConnected updates a feed's connection gauge.
func SetFeedConnected(feed string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	DefaultMetrics.FeedConnected.WithLabelValues(feed).Set(v)
}

// RecordProviderRequest records latency and outcome for an upstream call.
func RecordProviderRequest(provider string, seconds float64, err error) {
	DefaultMetrics.ProviderLatency.WithLabelValues(provider).Observe(seconds)
	if err != nil {
		DefaultMetrics.ProviderErrors.WithLabelValues(provider).Inc()
	}
}

// SetProviderHealthy updates a provider's health gauge.
func SetProviderHealthy(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	DefaultMetrics.ProviderHealthy.WithLabelValues(provider).Set(v)
}

// RecordPortfolioSync records one portfolio sync.
func RecordPortfolioSync(trigger, status string, seconds float64) {
	DefaultMetrics.PortfolioSyncs.WithLabelValues(trigger, status).Inc()
	DefaultMetrics.PortfolioSyncDuration.Observe(seconds)
}

// UpdateCacheSize updates one cache's entry gauge.
func UpdateCacheSize(cache string, entries int) {
	DefaultMetrics.CacheSize.WithLabelValues(cache).Set(float64(entries))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordSchedulerRun records a scheduled job run.
func RecordSchedulerRun(job, status string) {
	DefaultMetrics.SchedulerRuns.WithLabelValues(job, status).Inc()
}
