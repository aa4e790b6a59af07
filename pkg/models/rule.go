package models

import "time"

// AlertRule is the persisted configuration of a detection rule. The predicate
// itself is code, selected by Type; Params carries the rule's thresholds and
// Expression holds the CEL source for rules of type "custom".
type AlertRule struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Type            AlertType          `json:"type"`
	Severity        AlertSeverity      `json:"severity"`
	CooldownMinutes int                `json:"cooldown_minutes"`
	Enabled         bool               `json:"enabled"`
	Params          map[string]float64 `json:"params,omitempty"`
	Expression      string             `json:"expression,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Cooldown returns the rule cooldown as a duration.
func (r AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// Param returns a named threshold with a fallback default.
func (r AlertRule) Param(name string, def float64) float64 {
	if v, ok := r.Params[name]; ok {
		return v
	}
	return def
}
