package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Ingestion and buffer metrics
	ActionsReceived  *prometheus.CounterVec
	ActionsUploaded  *prometheus.CounterVec
	ActionsDiscarded *prometheus.CounterVec
	Flushes          *prometheus.CounterVec
	BufferDepth      prometheus.Gauge

	// Storage metrics
	Uploads              *prometheus.CounterVec
	UploadDuration       *prometheus.HistogramVec
	ObjectSize           *prometheus.HistogramVec
	UploadRetries        *prometheus.CounterVec
	StorageErrors        *prometheus.CounterVec
	CompressionFallbacks *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Kafka metrics
	MessagesConsumed   *prometheus.CounterVec
	MessagesRejected   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	RebalanceDuration  *prometheus.HistogramVec
	PartitionsAssigned *prometheus.GaugeVec
	LossPublished      *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		ActionsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actions_received_total",
				Help: "Total number of actions accepted, by ingestion path",
			},
			[]string{"path"},
		),
		ActionsUploaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actions_uploaded_total",
				Help: "Total number of actions persisted to object storage",
			},
			[]string{"path"},
		),
		ActionsDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actions_discarded_total",
				Help: "Total number of actions permanently discarded",
			},
			[]string{"reason"},
		),
		Flushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buffer_flushes_total",
				Help: "Total number of buffer flush attempts",
			},
			[]string{"trigger", "outcome"},
		),
		BufferDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "buffer_record_count",
				Help: "Current number of actions in the buffer",
			},
		),

		Uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_uploads_total",
				Help: "Total number of batch objects uploaded",
			},
			[]string{"backend", "format", "status"},
		),
		UploadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_upload_duration_seconds",
				Help:    "Duration of batch uploads including encoding and retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "format"},
		),
		ObjectSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_object_size_bytes",
				Help:    "Size of objects written to storage",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10), // 256B to 64MB
			},
			[]string{"backend", "format"},
		),
		UploadRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_upload_retries_total",
				Help: "Total number of upload attempts retried after a transient failure",
			},
			[]string{"backend"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
		CompressionFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_compression_fallbacks_total",
				Help: "Total number of uploads sent uncompressed after a compression failure",
			},
			[]string{"backend"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		MessagesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_rejected_total",
				Help: "Total number of Kafka messages that could not be ingested",
			},
			[]string{"topic", "reason"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		RebalanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_rebalance_duration_seconds",
				Help:    "Duration of consumer group rebalances",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),
		LossPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loss_events_published_total",
				Help: "Total number of discarded actions published to the loss topic",
			},
			[]string{"status"},
		),
	}
}

// IncActionsReceived increments the received counter.
func (m *Metrics) IncActionsReceived(path string) {
	m.ActionsReceived.WithLabelValues(path).Inc()
}

// AddActionsUploaded adds n to the uploaded counter.
func (m *Metrics) AddActionsUploaded(path string, n int) {
	m.ActionsUploaded.WithLabelValues(path).Add(float64(n))
}

// AddActionsDiscarded adds n to the discarded counter.
func (m *Metrics) AddActionsDiscarded(reason string, n int) {
	m.ActionsDiscarded.WithLabelValues(reason).Add(float64(n))
}

// IncFlushes increments the flush counter.
func (m *Metrics) IncFlushes(trigger, outcome string) {
	m.Flushes.WithLabelValues(trigger, outcome).Inc()
}

// SetBufferSize sets the buffer depth gauge.
func (m *Metrics) SetBufferSize(n int) {
	m.BufferDepth.Set(float64(n))
}

// ObserveUpload records one upload outcome.
func (m *Metrics) ObserveUpload(backend, format, status string, sizeBytes int, seconds float64) {
	m.Uploads.WithLabelValues(backend, format, status).Inc()
	m.UploadDuration.WithLabelValues(backend, format).Observe(seconds)
	if sizeBytes > 0 {
		m.ObjectSize.WithLabelValues(backend, format).Observe(float64(sizeBytes))
	}
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend, kind string) {
	m.StorageErrors.WithLabelValues(backend, kind).Inc()
}

// IncUploadRetries increments the upload retry counter.
func (m *Metrics) IncUploadRetries(backend string) {
	m.UploadRetries.WithLabelValues(backend).Inc()
}

// IncCompressionFallbacks increments the compression fallback counter.
func (m *Metrics) IncCompressionFallbacks(backend string) {
	m.CompressionFallbacks.WithLabelValues(backend).Inc()
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, seconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, strconv.Itoa(int(partition))).Inc()
}

// IncMessagesRejected increments the rejected message counter.
func (m *Metrics) IncMessagesRejected(topic, reason string) {
	m.MessagesRejected.WithLabelValues(topic, reason).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, strconv.Itoa(int(partition)), status).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// ObserveRebalanceDuration observes rebalance duration.
func (m *Metrics) ObserveRebalanceDuration(groupID string, duration float64) {
	m.RebalanceDuration.WithLabelValues(groupID).Observe(duration)
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncLossPublished increments the loss publication counter.
func (m *Metrics) IncLossPublished(status string) {
	m.LossPublished.WithLabelValues(status).Inc()
}
