package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chillerhub_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chillerhub_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "route"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chillerhub_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "route"},
	)

	// Auth and tenancy
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_auth_failures_total",
			Help: "Rejected credentials by scheme",
		},
		[]string{"scheme"}, // service, session
	)

	TenancyDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_tenancy_denials_total",
			Help: "Resource lookups denied by the tenancy guard",
		},
		[]string{"kind", "reason"}, // reason: missing, foreign
	)

	// Ingest metrics
	IngestPointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_ingest_points_total",
			Help: "Telemetry points received",
		},
		[]string{"scope", "status"}, // status: stored, rejected, failed
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chillerhub_ingest_duration_seconds",
			Help:    "Time from admission to commit of a telemetry point",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Alert metrics
	AlertsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_alerts_triggered_total",
			Help: "Alert events produced by rule evaluation",
		},
		[]string{"severity"},
	)

	AlertRulesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_alert_rules_skipped_total",
			Help: "Active rules skipped during evaluation",
		},
		[]string{"reason"}, // unknown_metric
	)

	RuleCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_rule_cache_total",
			Help: "Active rule cache lookups",
		},
		[]string{"result"}, // hit, miss, error
	)

	// Notification dispatch
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_notifications_total",
			Help: "Alert notifications by outcome",
		},
		[]string{"status"}, // sent, failed, dropped
	)

	NotifyAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_notify_attempts_total",
			Help: "Delivery attempts per e-mail provider",
		},
		[]string{"provider", "status"}, // status: success, failed, retried
	)

	DispatchQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chillerhub_dispatch_queue_size",
			Help: "Current size of the notification dispatch queue",
		},
	)

	DispatchQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chillerhub_dispatch_queue_capacity",
			Help: "Capacity of the notification dispatch queue",
		},
	)

	DispatchJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chillerhub_dispatch_job_duration_seconds",
			Help:    "Time taken by one notification job",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_kafka_publish_total",
			Help: "Total number of alert events published to Kafka",
		},
		[]string{"status"}, // status: success, failed, dropped
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chillerhub_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chillerhub_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chillerhub_kafka_bytes_written_total",
			Help: "Bytes of alert envelopes written to Kafka",
		},
	)

	KafkaConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_kafka_consumed_total",
			Help: "Alert envelopes read by the stream consumer",
		},
		[]string{"status"}, // status: delivered, malformed, failed
	)

	// Live stream
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chillerhub_stream_clients",
			Help: "Connected alert stream subscribers",
		},
	)

	StreamMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_stream_messages_total",
			Help: "Alert messages pushed to stream subscribers",
		},
		[]string{"status"}, // status: sent, dropped
	)

	// Analytics
	AnalyticsQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chillerhub_analytics_query_duration_seconds",
			Help:    "Aggregation query latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"query"},
	)

	AnalyticsRowsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_analytics_rows_scanned_total",
			Help: "Telemetry rows streamed into aggregations",
		},
		[]string{"query"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chillerhub_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
