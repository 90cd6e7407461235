// Package metrics provides Prometheus metrics for the contribution scoring service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the scoring service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Webhook ingestion metrics
	webhooksReceived  *prometheus.CounterVec
	webhooksDuplicate prometheus.Counter
	webhooksRejected  prometheus.Counter
	webhooksIgnored   prometheus.Counter
	deliveriesRetried prometheus.Counter
	deliveryFailures  prometheus.Counter
	deliveriesHandled prometheus.Counter
	processingLatency prometheus.Histogram

	// Scoring and ledger metrics
	scoringLatency       prometheus.Histogram
	pointsAwarded        prometheus.Counter
	scoringSkipped       prometheus.Counter
	gamingFlags          *prometheus.CounterVec
	reviewerBlocks       prometheus.Counter
	ledgerTransactions   prometheus.Counter
	ledgerReversals      prometheus.Counter
	ledgerIntegrityFails prometheus.Counter

	// Badge and rank metrics
	badgeAwards      prometheus.Counter
	badgeRevocations prometheus.Counter
	badgeEvaluations prometheus.Counter
	rankSnapshots    *prometheus.CounterVec
	snapshotDuration prometheus.Histogram

	// Queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueues      prometheus.Counter
	queueDequeues      prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker metrics
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "forgescore",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.webhooksReceived = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "webhooks_received_total",
			Help:      "Total webhook deliveries received, by event type",
		},
		[]string{"event_type"},
	)

	m.webhooksDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "webhooks_duplicate_total",
		Help:      "Deliveries short-circuited as already processed",
	})

	m.webhooksRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "webhooks_rejected_total",
		Help:      "Deliveries rejected for missing or mismatched signatures",
	})

	m.webhooksIgnored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "webhooks_ignored_total",
		Help:      "Deliveries acknowledged but ignored (unknown kind, illegal transition)",
	})

	m.deliveriesRetried = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "deliveries_retried_total",
		Help:      "Deliveries reprocessed after an earlier failure",
	})

	m.deliveryFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "delivery_failures_total",
		Help:      "Handler failures that left the fingerprint unprocessed",
	})

	m.deliveriesHandled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "deliveries_handled_total",
		Help:      "Deliveries fully processed and marked as such",
	})

	m.processingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "delivery_processing_seconds",
		Help:      "End-to-end latency of delivery processing",
		Buckets:   m.histogramBuckets,
	})

	m.scoringLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scoring_seconds",
		Help:      "Latency of score computation",
		Buckets:   m.histogramBuckets,
	})

	m.pointsAwarded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "points_awarded_total",
		Help:      "Total point magnitude appended to the ledger",
	})

	m.scoringSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scoring_skipped_total",
		Help:      "Scoreable events skipped because scoring was already applied",
	})

	m.gamingFlags = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "gaming_flags_total",
			Help:      "Gaming detector flags, by check",
		},
		[]string{"check"},
	)

	m.reviewerBlocks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reviewer_blocks_total",
		Help:      "Reviewer actions blocked by the abuse detector",
	})

	m.ledgerTransactions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ledger_transactions_total",
		Help:      "Point transactions appended to the ledger",
	})

	m.ledgerReversals = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ledger_reversals_total",
		Help:      "Reversal transactions appended to the ledger",
	})

	m.ledgerIntegrityFails = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ledger_integrity_failures_total",
		Help:      "Balance mismatches found by integrity verification",
	})

	m.badgeAwards = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "badge_awards_total",
		Help:      "Badges awarded, automatic and manual",
	})

	m.badgeRevocations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "badge_revocations_total",
		Help:      "Badges revoked",
	})

	m.badgeEvaluations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "badge_evaluations_total",
		Help:      "Badge evaluation passes over a contributor",
	})

	m.rankSnapshots = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "rank_snapshots_total",
			Help:      "Rank snapshots persisted, by leaderboard kind",
		},
		[]string{"kind"},
	)

	m.snapshotDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rank_snapshot_seconds",
		Help:      "Duration of rank snapshot generation",
		Buckets:   m.histogramBuckets,
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current size of the work queue (backlog indicator)",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Configured work queue capacity",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization",
		Help:      "Queue size over capacity (0-1)",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueues_total",
		Help:      "Work items enqueued",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeues_total",
		Help:      "Work items dequeued",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Enqueue attempts refused (closed, full, cancelled)",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Current number of running workers",
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_processing_seconds",
		Help:      "Latency of work item processing",
		Buckets:   m.histogramBuckets,
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Work items that failed processing",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by endpoint and status code",
		},
		[]string{"endpoint", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency by endpoint",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint"},
	)
}

// Handler returns an HTTP handler serving the custom registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}

// Package-level helpers against the global manager.

func RecordWebhookReceived(eventType string) {
	globalManager.webhooksReceived.WithLabelValues(eventType).Inc()
}
func RecordWebhookDuplicate() { globalManager.webhooksDuplicate.Inc() }
func RecordWebhookRejected()  { globalManager.webhooksRejected.Inc() }
func RecordWebhookIgnored()   { globalManager.webhooksIgnored.Inc() }
func RecordDeliveryRetried()  { globalManager.deliveriesRetried.Inc() }
func RecordDeliveryFailure()  { globalManager.deliveryFailures.Inc() }
func RecordDeliveryHandled()  { globalManager.deliveriesHandled.Inc() }

func RecordProcessingLatency(seconds float64) { globalManager.processingLatency.Observe(seconds) }
func RecordScoringLatency(seconds float64)    { globalManager.scoringLatency.Observe(seconds) }

// RecordPointsAwarded tracks the absolute magnitude of ledger writes.
func RecordPointsAwarded(points int) {
	if points < 0 {
		points = -points
	}
	globalManager.pointsAwarded.Add(float64(points))
}

func RecordScoringSkipped()         { globalManager.scoringSkipped.Inc() }
func RecordGamingFlag(check string) { globalManager.gamingFlags.WithLabelValues(check).Inc() }
func RecordReviewerBlocked()        { globalManager.reviewerBlocks.Inc() }
func RecordLedgerTransaction()      { globalManager.ledgerTransactions.Inc() }
func RecordLedgerReversal()         { globalManager.ledgerReversals.Inc() }
func RecordLedgerIntegrityFailure() { globalManager.ledgerIntegrityFails.Inc() }

func RecordBadgeAward()      { globalManager.badgeAwards.Inc() }
func RecordBadgeRevocation() { globalManager.badgeRevocations.Inc() }
func RecordBadgeEvaluation() { globalManager.badgeEvaluations.Inc() }

func RecordRankSnapshot(kind string)         { globalManager.rankSnapshots.WithLabelValues(kind).Inc() }
func RecordSnapshotDuration(seconds float64) { globalManager.snapshotDuration.Observe(seconds) }

func UpdateQueueSize(n int)            { globalManager.queueSize.Set(float64(n)) }
func UpdateQueueCapacity(n int)        { globalManager.queueCapacity.Set(float64(n)) }
func UpdateQueueUtilization(u float64) { globalManager.queueUtilization.Set(u) }
func RecordQueueEnqueue()              { globalManager.queueEnqueues.Inc() }
func RecordQueueDequeue()              { globalManager.queueDequeues.Inc() }
func RecordQueueEnqueueError()         { globalManager.queueEnqueueErrors.Inc() }

func UpdateWorkerCount(n int) { globalManager.workerCount.Set(float64(n)) }
func RecordWorkerProcessingLatency(seconds float64) {
	globalManager.workerProcessingLatency.Observe(seconds)
}
func RecordWorkerError() { globalManager.workerErrors.Inc() }

func RecordHTTPRequest(endpoint, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, statusCode).Inc()
}

func RecordHTTPDuration(endpoint string, seconds float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint).Observe(seconds)
}
