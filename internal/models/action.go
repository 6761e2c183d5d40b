package models

import "time"

// ActionType enumerates the remediation operations an executor can perform.
type ActionType string

const (
	ActionRestartService ActionType = "restart_service"
	ActionScaleService   ActionType = "scale_service"
	ActionClearCache     ActionType = "clear_cache"
	ActionNotifyTeam     ActionType = "notify_team"
	ActionCustom         ActionType = "custom"
)

// SelfHealingAction is a configured remediation rule. Created at setup;
// only Enabled toggles at runtime.
type SelfHealingAction struct {
	ID              string            `json:"id" yaml:"id"`
	Name            string            `json:"name" yaml:"name"`
	ActionType      ActionType        `json:"action_type" yaml:"action_type"`
	Condition       string            `json:"condition" yaml:"condition"`
	Parameters      map[string]string `json:"parameters,omitempty" yaml:"parameters"`
	CooldownMinutes int               `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	Priority        int               `json:"priority" yaml:"priority"`
	Enabled         bool              `json:"enabled" yaml:"enabled"`
}

// Cooldown returns the configured cooldown as a duration.
func (a SelfHealingAction) Cooldown() time.Duration {
	return time.Duration(a.CooldownMinutes) * time.Minute
}

// Outcome classifies the result of one rule-engine decision for an action.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeFailure         Outcome = "failure"
	OutcomeSkippedCooldown Outcome = "skipped_cooldown"
)

// ActionExecutionRecord is one entry of the append-only execution log.
// IncidentID is empty when no incident triggered the evaluation.
type ActionExecutionRecord struct {
	ID          string    `json:"id"`
	ActionID    string    `json:"action_id"`
	IncidentID  string    `json:"incident_id,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
}
