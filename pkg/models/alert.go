package models

import "time"

type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

type AlertType string

const (
	AlertTypeVolumeSpike   AlertType = "volume_spike"
	AlertTypeSentimentDrop AlertType = "sentiment_drop"
	AlertTypeNegativeTrend AlertType = "negative_trend"
	AlertTypeViralNegative AlertType = "viral_negative"
	AlertTypeCustom        AlertType = "custom"
)

type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// CrisisAlert is an anomaly synthesized from a window of events. Alerts are
// created active, mutated only via acknowledge/resolve, and never deleted.
type CrisisAlert struct {
	ID                string                 `json:"id" bson:"_id"`
	Severity          AlertSeverity          `json:"severity" bson:"severity"`
	Type              AlertType              `json:"type" bson:"type"`
	Title             string                 `json:"title" bson:"title"`
	Description       string                 `json:"description" bson:"description"`
	TriggerEventIDs   []string               `json:"trigger_event_ids" bson:"trigger_event_ids"`
	TriggerConditions map[string]interface{} `json:"trigger_conditions,omitempty" bson:"trigger_conditions,omitempty"`
	CreatedAt         time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at" bson:"updated_at"`
	Status            AlertStatus            `json:"status" bson:"status"`
	Escalated         bool                   `json:"escalated" bson:"escalated"`
	AffectedKeywords  []string               `json:"affected_keywords,omitempty" bson:"affected_keywords,omitempty"`
	AffectedPlatforms []string               `json:"affected_platforms,omitempty" bson:"affected_platforms,omitempty"`
	EstimatedReach    int64                  `json:"estimated_reach" bson:"estimated_reach"`
	Metadata          map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	AcknowledgedBy    string                 `json:"acknowledged_by,omitempty" bson:"acknowledged_by,omitempty"`
	ResolvedBy        string                 `json:"resolved_by,omitempty" bson:"resolved_by,omitempty"`
}

// CanTransition reports whether the status machine allows moving from one
// status to another. Status only moves forward: active -> acknowledged ->
// resolved, or active -> resolved directly.
func CanTransition(from, to AlertStatus) bool {
	switch from {
	case AlertStatusActive:
		return to == AlertStatusAcknowledged || to == AlertStatusResolved
	case AlertStatusAcknowledged:
		return to == AlertStatusResolved
	default:
		return false
	}
}

// ValidStatus reports whether s is one of the known alert statuses.
func ValidStatus(s AlertStatus) bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	}
	return false
}
