// Package metrics provides Prometheus metrics for the rally coordination service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the rally service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Coordination metrics
	interestToggles      *prometheus.CounterVec
	actionItemsCreated   prometheus.Counter
	episodeClaimConflict prometheus.Counter
	actionItemTransition *prometheus.CounterVec
	confirmations        *prometheus.CounterVec
	activeActionItems    prometheus.Gauge
	idempotentReplays    prometheus.Counter

	// Group formation effect
	chatCreations     *prometheus.CounterVec
	chatCreateLatency prometheus.Histogram

	// Recommendations
	recommendationsServed prometheus.Counter
	scoringLatency        prometheus.Histogram

	// Client status synchronizer
	statusPolls *prometheus.CounterVec

	// Sweeper
	sweepRuns    prometheus.Counter
	sweepLatency prometheus.Histogram

	// Queue and workers (notification fan-out)
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueEnqueue            prometheus.Counter
	queueDequeue            prometheus.Counter
	queueEnqueueErrors      prometheus.Counter
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
	notificationsSent       *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors and system
	errorsByComponent    *prometheus.CounterVec
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
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
		namespace:        "rally",
		subsystem:        "coordination",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	m.interestToggles = m.counterVec("interest_toggles_total",
		"Interest toggles by resulting state", "state")
	m.actionItemsCreated = m.counter("action_items_created_total",
		"Action items created by threshold crossings")
	m.episodeClaimConflict = m.counter("episode_claim_conflicts_total",
		"Threshold crossings that lost the episode claim to a concurrent toggle")
	m.actionItemTransition = m.counterVec("action_item_transitions_total",
		"Action item status transitions", "to")
	m.confirmations = m.counterVec("confirmations_total",
		"Confirmation responses recorded", "response")
	m.activeActionItems = m.gauge("active_action_items",
		"Action items currently in the active state")
	m.idempotentReplays = m.counter("idempotent_replays_total",
		"Requests answered from the idempotency cache")

	m.chatCreations = m.counterVec("chat_creations_total",
		"Group chat creation attempts by outcome", "outcome")
	m.chatCreateLatency = m.histogram("chat_create_latency_milliseconds",
		"Latency of group chat creation in milliseconds")

	m.recommendationsServed = m.counter("recommendations_served_total",
		"Recommendation lists served")
	m.scoringLatency = m.histogram("scoring_latency_milliseconds",
		"Time to score and rank candidate venues in milliseconds")

	m.statusPolls = m.counterVec("status_polls_total",
		"Client status synchronizer polls by outcome", "outcome")

	m.sweepRuns = m.counter("sweep_runs_total", "Sweeper passes executed")
	m.sweepLatency = m.histogram("sweep_latency_milliseconds",
		"Duration of a sweeper pass in milliseconds")

	m.queueSize = m.gauge("queue_size", "Current size of the notification queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the notification queue")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Notifications enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Notifications dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Notification enqueue failures")
	m.workerCount = m.gauge("worker_count", "Number of running notification workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Notification delivery latency in milliseconds")
	m.workerErrors = m.counter("worker_errors_total", "Notification delivery failures")
	m.notificationsSent = m.counterVec("notifications_sent_total",
		"Notifications delivered by kind", "kind")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")
	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordInterestToggle counts a toggle that left the user interested (true) or not.
func RecordInterestToggle(interested bool) {
	state := "off"
	if interested {
		state = "on"
	}
	globalManager.interestToggles.WithLabelValues(state).Inc()
}

// RecordActionItemCreated counts a won episode claim.
func RecordActionItemCreated() { globalManager.actionItemsCreated.Inc() }

// RecordEpisodeClaimConflict counts a lost episode claim.
func RecordEpisodeClaimConflict() { globalManager.episodeClaimConflict.Inc() }

// RecordActionItemTransition counts a transition into the given status.
func RecordActionItemTransition(to string) {
	globalManager.actionItemTransition.WithLabelValues(to).Inc()
}

// RecordConfirmation counts a recorded response.
func RecordConfirmation(response string) {
	globalManager.confirmations.WithLabelValues(response).Inc()
}

// UpdateActiveActionItems sets the number of active action items.
func UpdateActiveActionItems(count int) { globalManager.activeActionItems.Set(float64(count)) }

// RecordIdempotentReplay counts a replayed idempotent request.
func RecordIdempotentReplay() { globalManager.idempotentReplays.Inc() }

// RecordChatCreation counts a chat creation attempt with its outcome (ok, error, open).
func RecordChatCreation(outcome string, latencyMs float64) {
	globalManager.chatCreations.WithLabelValues(outcome).Inc()
	globalManager.chatCreateLatency.Observe(latencyMs)
}

// RecordRecommendationsServed counts a served list and its scoring time.
func RecordRecommendationsServed(latencyMs float64) {
	globalManager.recommendationsServed.Inc()
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordStatusPoll counts a synchronizer fetch with its outcome (ok, error, gone).
func RecordStatusPoll(outcome string) {
	globalManager.statusPolls.WithLabelValues(outcome).Inc()
}

// RecordSweep counts a sweeper pass.
func RecordSweep(latencyMs float64) {
	globalManager.sweepRuns.Inc()
	globalManager.sweepLatency.Observe(latencyMs)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueue.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeue.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records notification delivery latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordNotificationSent counts a delivered notification.
func RecordNotificationSent(kind string) {
	globalManager.notificationsSent.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
