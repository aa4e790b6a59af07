package constants

import "time"

// Broadcast channel registry. Subscribe requests naming anything outside this
// set are silently ignored.
const (
	ChannelEventsAll      = "events.all"
	ChannelEventsCrisis   = "events.crisis"
	ChannelAlertsAll      = "alerts.all"
	ChannelAlertsCritical = "alerts.critical"
	ChannelMetrics        = "metrics"
)

func KnownChannels() []string {
	return []string{
		ChannelEventsAll,
		ChannelEventsCrisis,
		ChannelAlertsAll,
		ChannelAlertsCritical,
		ChannelMetrics,
	}
}

const (
	CacheKeyPrefixSeen = "seen:"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = 5 * time.Second
)

const (
	DefaultWindowLength = 60 * time.Minute
	DefaultWindowStep   = 30 * time.Minute
)

// Canonical detection thresholds. Rule params override these per rule.
const (
	DefaultVolumeFloor        = 100
	DefaultSpikeMultiplier    = 3.0
	DefaultSentimentThreshold = -0.5
	DefaultSentimentFloor     = 10
	DefaultViralSentiment     = -0.8
	DefaultViralReach         = 10000
	DefaultTrendDelta         = 0.3
)

const (
	DefaultSimilarityThreshold = 0.8
	DefaultSimilarityWindow    = 24 * time.Hour
	SimilarityCandidateLimit   = 500
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultPullTimeout     = 20 * time.Second
	HealthGraceMultiplier  = 3
	DefaultHeartbeatPeriod = 30 * time.Second
	DefaultStaleThreshold  = 5 * time.Minute
)

const (
	DefaultAlertsTopic = "crisis_alerts"
	DefaultEventsTopic = "monitoring_events"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultRetention = 30 * 24 * time.Hour
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)
