package models

import "time"

// IncidentStatus tracks the incident lifecycle.
type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

// Incident groups correlated alerts. Severity is always the max severity
// among non-suppressed member alerts and is recomputed on every
// membership change. Exactly one open incident may own a given alert.
type Incident struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Severity       Severity       `json:"severity"`
	Status         IncidentStatus `json:"status"`
	MemberAlertIDs []string       `json:"member_alert_ids"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	RootCauseHint  string         `json:"root_cause_hint,omitempty"`
}

// HasMember reports whether the alert id is already part of the incident.
func (i *Incident) HasMember(alertID string) bool {
	for _, id := range i.MemberAlertIDs {
		if id == alertID {
			return true
		}
	}
	return false
}
