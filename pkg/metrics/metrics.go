package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BrokerMessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total number of events published to the exchange (count)",
		},
		[]string{"service", "routing_key", "status"},
	)

	BrokerMessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_consumed_total",
			Help: "Total number of deliveries settled by a consumer, by outcome (count)",
		},
		[]string{"service", "queue", "outcome"},
	)

	BrokerPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_publish_duration_ms",
			Help:    "Duration of publishing an event in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "routing_key"},
	)

	BrokerHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_handler_duration_ms",
			Help:    "Duration of handling one delivery in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"service", "queue"},
	)

	BrokerMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_message_size_bytes",
			Help:    "Size of event payloads in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
		[]string{"service", "direction"},
	)

	BrokerReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Total number of broker reconnect attempts (count)",
		},
		[]string{"service", "status"},
	)

	BrokerConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_connected",
			Help: "Whether the broker connection is open (1) or not (0)",
		},
		[]string{"service"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "operation"},
	)

	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total number of messages ingested (count)",
		},
		[]string{"source", "status"},
	)

	ExtractionMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_messages_total",
			Help: "Total number of messages run through extraction, by final state (count)",
		},
		[]string{"strategy", "state"},
	)

	ExtractionTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_tasks_total",
			Help: "Total number of extracted tasks, by publish status (count)",
		},
		[]string{"strategy", "status"},
	)

	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_duration_ms",
			Help:    "Duration of strategy extraction in milliseconds",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"strategy"},
	)

	PlatformTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_tasks_total",
			Help: "Total number of platform task creations, by outcome (count)",
		},
		[]string{"platform", "status"},
	)

	PlatformRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "platform_request_duration_ms",
			Help:    "Duration of platform task creation in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"platform"},
	)

	TaskResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_results_total",
			Help: "Total number of task outcomes observed by the result sink (count)",
		},
		[]string{"event_type", "platform"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

// register adds collectors to the default registry, tolerating collectors
// that are already registered so services may share helpers.
func register(collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			panic(err)
		}
	}
}

func RegisterBrokerMetrics() {
	register(
		BrokerMessagesPublishedTotal,
		BrokerMessagesConsumedTotal,
		BrokerPublishDuration,
		BrokerHandlerDuration,
		BrokerMessageSizeBytes,
		BrokerReconnectsTotal,
		BrokerConnected,
		RetryAttemptsTotal,
	)
}

func RegisterIngestorMetrics() {
	register(IngestMessagesTotal, RateLimitRequestsTotal)
}

func RegisterExtractorMetrics() {
	register(ExtractionMessagesTotal, ExtractionTasksTotal, ExtractionDuration)
}

func RegisterPlatformMetrics() {
	register(PlatformTasksTotal, PlatformRequestDuration)
}

func RegisterResultsMetrics() {
	register(TaskResultsTotal)
}

func RegisterCircuitBreakerMetrics() {
	register(CircuitBreakerState, CircuitBreakerRequests, CircuitBreakerFailures)
}

func RegisterDatabaseMetrics() {
	register(DatabaseQueriesTotal, DatabaseQueryDuration)
}

func IncPublished(service, routingKey, status string) {
	BrokerMessagesPublishedTotal.WithLabelValues(service, routingKey, status).Inc()
}

func IncConsumed(service, queue, outcome string) {
	BrokerMessagesConsumedTotal.WithLabelValues(service, queue, outcome).Inc()
}

func ObservePublishDuration(service, routingKey string, duration time.Duration) {
	BrokerPublishDuration.WithLabelValues(service, routingKey).Observe(float64(duration.Milliseconds()))
}

func ObserveHandlerDuration(service, queue string, duration time.Duration) {
	BrokerHandlerDuration.WithLabelValues(service, queue).Observe(float64(duration.Milliseconds()))
}

func ObserveMessageSize(service, direction string, sizeBytes int) {
	BrokerMessageSizeBytes.WithLabelValues(service, direction).Observe(float64(sizeBytes))
}

func IncReconnect(service, status string) {
	BrokerReconnectsTotal.WithLabelValues(service, status).Inc()
}

func SetBrokerConnected(service string, connected bool) {
	value := 0.0
	if connected {
		value = 1
	}
	BrokerConnected.WithLabelValues(service).Set(value)
}

func IncRetryAttempt(service, operation string) {
	RetryAttemptsTotal.WithLabelValues(service, operation).Inc()
}

func IncIngested(source, status string) {
	IngestMessagesTotal.WithLabelValues(source, status).Inc()
}

func IncExtraction(strategy, state string) {
	ExtractionMessagesTotal.WithLabelValues(strategy, state).Inc()
}

func IncExtractedTask(strategy, status string) {
	ExtractionTasksTotal.WithLabelValues(strategy, status).Inc()
}

func ObserveExtractionDuration(strategy string, duration time.Duration) {
	ExtractionDuration.WithLabelValues(strategy).Observe(float64(duration.Milliseconds()))
}

func IncPlatformTask(platform, status string) {
	PlatformTasksTotal.WithLabelValues(platform, status).Inc()
}

func ObservePlatformDuration(platform string, duration time.Duration) {
	PlatformRequestDuration.WithLabelValues(platform).Observe(float64(duration.Milliseconds()))
}

func IncTaskResult(eventType, platform string) {
	TaskResultsTotal.WithLabelValues(eventType, platform).Inc()
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
