package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_processed_total",
			Help: "Total number of events handled by the ingest pipeline (count)",
		},
		[]string{"status"},
	)

	IngestCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_cycles_total",
			Help: "Total number of scheduled ingest cycles (count)",
		},
		[]string{"source", "status"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_processing_duration_ms",
			Help:    "Per-batch processing duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"path"},
	)

	DuplicatesFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_duplicates_filtered_total",
			Help: "Total number of events suppressed as duplicates (count)",
		},
		[]string{"reason"},
	)

	SimilarityLookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_similarity_lookup_duration_ms",
			Help:    "Duration of content-similarity lookups in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"component", "strategy", "reason"},
	)

	StoreFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_flushes_total",
			Help: "Total number of batch writer flushes (count)",
		},
		[]string{"status"},
	)

	StoreFlushFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "store_flush_failures_total",
			Help: "Flushes that failed after their retry and were surfaced (count)",
		},
	)

	StoreFlushSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "store_flush_size",
			Help:    "Number of events per flush (count)",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		},
	)

	StoreQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_query_duration_ms",
			Help:    "Duration of event store queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"operation"},
	)

	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_evaluations_total",
			Help: "Total number of rule/window evaluations (count)",
		},
		[]string{"rule_id", "rule_type", "result"},
	)

	RuleEvaluationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_evaluation_errors_total",
			Help: "Predicate evaluations that failed and were isolated (count)",
		},
		[]string{"rule_id", "rule_type"},
	)

	AlertsGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_alerts_generated_total",
			Help: "Total number of alerts produced by the rule engine (count)",
		},
		[]string{"rule_type", "severity"},
	)

	CooldownSuppressionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_cooldown_suppressions_total",
			Help: "Rule firings suppressed by an active cooldown (count)",
		},
		[]string{"rule_id"},
	)

	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rules_active_rules",
			Help: "Number of enabled alert rules (count)",
		},
	)

	BroadcastSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_subscribers",
			Help: "Number of currently connected subscribers (count)",
		},
	)

	BroadcastMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_messages_total",
			Help: "Messages fanned out to subscribers (count)",
		},
		[]string{"channel", "type"},
	)

	BroadcastDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_drops_total",
			Help: "Per-subscriber deliveries dropped or subscribers evicted (count)",
		},
		[]string{"reason"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_dispatches_total",
			Help: "Alert notifications handed to downstream channels (count)",
		},
		[]string{"channel", "status"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"topic"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"component"},
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
			Help: "Total number of requests through circuit breakers (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failed requests through circuit breakers (count)",
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
)

func RegisterIngestMetrics() {
	prometheus.MustRegister(EventsProcessedTotal)
	prometheus.MustRegister(IngestCyclesTotal)
	prometheus.MustRegister(ProcessingDuration)
	prometheus.MustRegister(DuplicatesFilteredTotal)
	prometheus.MustRegister(SimilarityLookupDuration)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterStoreMetrics() {
	prometheus.MustRegister(StoreFlushesTotal)
	prometheus.MustRegister(StoreFlushFailuresTotal)
	prometheus.MustRegister(StoreFlushSize)
	prometheus.MustRegister(StoreQueryDuration)
}

func RegisterRuleMetrics() {
	prometheus.MustRegister(RuleEvaluationsTotal)
	prometheus.MustRegister(RuleEvaluationErrorsTotal)
	prometheus.MustRegister(AlertsGeneratedTotal)
	prometheus.MustRegister(CooldownSuppressionsTotal)
	prometheus.MustRegister(ActiveRules)
}

func RegisterBroadcastMetrics() {
	prometheus.MustRegister(BroadcastSubscribers)
	prometheus.MustRegister(BroadcastMessagesTotal)
	prometheus.MustRegister(BroadcastDropsTotal)
}

func RegisterTransportMetrics() {
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveProcessingDuration(path string, duration time.Duration) {
	ProcessingDuration.WithLabelValues(path).Observe(float64(duration.Milliseconds()))
}

func ObserveSimilarityLookup(status string, duration time.Duration) {
	SimilarityLookupDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveStoreQuery(operation string, duration time.Duration) {
	StoreQueryDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}

func SetActiveRules(count int) {
	ActiveRules.Set(float64(count))
}

func SetBroadcastSubscribers(count int) {
	BroadcastSubscribers.Set(float64(count))
}

func IncKafkaMessagesRead(topic string) {
	KafkaMessagesReadTotal.WithLabelValues(topic).Inc()
}

func IncKafkaMessagesWritten(topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(topic).Inc()
}
