// Package incidents maintains the incident registry: membership,
// lifecycle transitions, severity aggregation and retention.
package incidents

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelstack/sentinel-heal/internal/models"
	"github.com/sentinelstack/sentinel-heal/internal/utils"
)

// Config tunes lifecycle and retention behaviour.
type Config struct {
	// QuietPeriod is how long an open or acknowledged incident may go
	// without new alerts before it auto-resolves.
	QuietPeriod time.Duration
	// Retention is how long resolved incidents and their alerts are kept
	// before eviction.
	Retention time.Duration
}

// Aggregator is the authoritative in-memory store of incidents and the
// alerts attached to them. All methods are safe for concurrent use.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu              sync.RWMutex
	incidents       map[string]*models.Incident
	alerts          map[string]models.Alert
	alertToIncident map[string]string
	lastAlertAt     map[string]time.Time
}

// NewAggregator constructs an Aggregator.
func NewAggregator(cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = 30 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &Aggregator{
		cfg:             cfg,
		logger:          logger,
		now:             time.Now,
		incidents:       make(map[string]*models.Incident),
		alerts:          make(map[string]models.Alert),
		alertToIncident: make(map[string]string),
		lastAlertAt:     make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Intended for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// OpenIncident creates a new open incident seeded with the given alerts.
// At least one alert is required; the title and severity derive from the
// members.
func (a *Aggregator) OpenIncident(alerts []models.Alert) (models.Incident, error) {
	if len(alerts) == 0 {
		return models.Incident{}, utils.NewAppError("incidents.OpenIncident", "at least one alert is required", nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	inc := &models.Incident{
		ID:        uuid.NewString(),
		Status:    models.IncidentOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, alert := range alerts {
		if owner, taken := a.alertToIncident[alert.ID]; taken {
			return models.Incident{}, utils.NewAppError("incidents.OpenIncident",
				fmt.Sprintf("alert %s already belongs to incident %s", alert.ID, owner), nil)
		}
	}
	for _, alert := range alerts {
		a.alerts[alert.ID] = alert
		a.alertToIncident[alert.ID] = inc.ID
		inc.MemberAlertIDs = append(inc.MemberAlertIDs, alert.ID)
	}

	a.refreshDerivedLocked(inc)
	a.incidents[inc.ID] = inc
	a.lastAlertAt[inc.ID] = latestAlertTime(alerts, now)

	a.logger.Info("incident opened",
		slog.String("incident_id", inc.ID),
		slog.Int("alerts", len(alerts)),
		slog.String("severity", string(inc.Severity)))
	return *inc, nil
}

// Attach adds an alert to an existing non-resolved incident. Attaching
// an alert that is already a member is a no-op; attaching an alert
// owned by a different incident is an error.
func (a *Aggregator) Attach(incidentID string, alert models.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	inc, ok := a.incidents[incidentID]
	if !ok {
		return utils.NewAppError("incidents.Attach", fmt.Sprintf("incident %s not found", incidentID), nil)
	}
	if inc.Status == models.IncidentResolved {
		return utils.NewAppError("incidents.Attach", fmt.Sprintf("incident %s is resolved", incidentID), nil)
	}
	if owner, taken := a.alertToIncident[alert.ID]; taken {
		if owner == incidentID {
			return nil
		}
		return utils.NewAppError("incidents.Attach",
			fmt.Sprintf("alert %s already belongs to incident %s", alert.ID, owner), nil)
	}

	now := a.now().UTC()
	a.alerts[alert.ID] = alert
	a.alertToIncident[alert.ID] = incidentID
	inc.MemberAlertIDs = append(inc.MemberAlertIDs, alert.ID)
	inc.UpdatedAt = now
	a.refreshDerivedLocked(inc)
	if alert.Timestamp.After(a.lastAlertAt[incidentID]) {
		a.lastAlertAt[incidentID] = alert.Timestamp
	} else if a.lastAlertAt[incidentID].IsZero() {
		a.lastAlertAt[incidentID] = now
	}
	return nil
}

// Acknowledge moves an open incident to acknowledged.
func (a *Aggregator) Acknowledge(incidentID string) (models.Incident, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	inc, ok := a.incidents[incidentID]
	if !ok {
		return models.Incident{}, utils.NewAppError("incidents.Acknowledge", fmt.Sprintf("incident %s not found", incidentID), nil)
	}
	if inc.Status != models.IncidentOpen {
		return models.Incident{}, utils.NewAppError("incidents.Acknowledge",
			fmt.Sprintf("incident %s is %s, only open incidents can be acknowledged", incidentID, inc.Status), nil)
	}
	inc.Status = models.IncidentAcknowledged
	inc.UpdatedAt = a.now().UTC()
	return *inc, nil
}

// Resolve closes an incident. Both open and acknowledged incidents may
// be resolved; resolving a resolved incident is an error.
func (a *Aggregator) Resolve(incidentID string) (models.Incident, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolveLocked(incidentID)
}

func (a *Aggregator) resolveLocked(incidentID string) (models.Incident, error) {
	inc, ok := a.incidents[incidentID]
	if !ok {
		return models.Incident{}, utils.NewAppError("incidents.Resolve", fmt.Sprintf("incident %s not found", incidentID), nil)
	}
	if inc.Status == models.IncidentResolved {
		return models.Incident{}, utils.NewAppError("incidents.Resolve", fmt.Sprintf("incident %s is already resolved", incidentID), nil)
	}
	now := a.now().UTC()
	inc.Status = models.IncidentResolved
	inc.UpdatedAt = now
	inc.ResolvedAt = &now
	return *inc, nil
}

// SweepQuiet auto-resolves incidents that have received no alerts for
// the quiet period, and evicts resolved incidents (with their alerts)
// past retention. Returns the ids of incidents auto-resolved.
func (a *Aggregator) SweepQuiet() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	var resolved []string
	for id, inc := range a.incidents {
		if inc.Status == models.IncidentResolved {
			continue
		}
		last := a.lastAlertAt[id]
		if last.IsZero() {
			last = inc.CreatedAt
		}
		if now.Sub(last) >= a.cfg.QuietPeriod {
			if _, err := a.resolveLocked(id); err == nil {
				resolved = append(resolved, id)
				a.logger.Info("incident auto-resolved after quiet period", slog.String("incident_id", id))
			}
		}
	}

	for id, inc := range a.incidents {
		if inc.Status != models.IncidentResolved || inc.ResolvedAt == nil {
			continue
		}
		if now.Sub(*inc.ResolvedAt) >= a.cfg.Retention {
			for _, alertID := range inc.MemberAlertIDs {
				delete(a.alerts, alertID)
				delete(a.alertToIncident, alertID)
			}
			delete(a.incidents, id)
			delete(a.lastAlertAt, id)
		}
	}

	sort.Strings(resolved)
	return resolved
}

// Get returns one incident by id.
func (a *Aggregator) Get(incidentID string) (models.Incident, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	inc, ok := a.incidents[incidentID]
	if !ok {
		return models.Incident{}, utils.NewAppError("incidents.Get", fmt.Sprintf("incident %s not found", incidentID), nil)
	}
	return *inc, nil
}

// Query filters incident listings. Zero values match everything.
type Query struct {
	Status models.IncidentStatus
	From   time.Time
	To     time.Time
}

// List returns incidents matching the query, newest first.
func (a *Aggregator) List(q Query) []models.Incident {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []models.Incident
	for _, inc := range a.incidents {
		if q.Status != "" && inc.Status != q.Status {
			continue
		}
		if !q.From.IsZero() && inc.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && inc.CreatedAt.After(q.To) {
			continue
		}
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// OpenIncidents returns all incidents that are not resolved.
func (a *Aggregator) OpenIncidents() []models.Incident {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []models.Incident
	for _, inc := range a.incidents {
		if inc.Status != models.IncidentResolved {
			out = append(out, *inc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenIncidentIDs returns the not-resolved incident ids as a set.
func (a *Aggregator) OpenIncidentIDs() map[string]bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]bool)
	for id, inc := range a.incidents {
		if inc.Status != models.IncidentResolved {
			out[id] = true
		}
	}
	return out
}

// Alerts returns the member alerts of an incident, oldest first.
func (a *Aggregator) Alerts(incidentID string) ([]models.Alert, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	inc, ok := a.incidents[incidentID]
	if !ok {
		return nil, utils.NewAppError("incidents.Alerts", fmt.Sprintf("incident %s not found", incidentID), nil)
	}
	out := make([]models.Alert, 0, len(inc.MemberAlertIDs))
	for _, id := range inc.MemberAlertIDs {
		if alert, ok := a.alerts[id]; ok {
			out = append(out, alert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// AllAlerts returns every retained alert, newest first.
func (a *Aggregator) AllAlerts() []models.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.Alert, 0, len(a.alerts))
	for _, alert := range a.alerts {
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// refreshDerivedLocked recomputes title, severity and root cause hint
// from the current membership. Suppressed alerts never raise severity.
func (a *Aggregator) refreshDerivedLocked(inc *models.Incident) {
	severity := models.SeverityLow
	var primary *models.Alert
	var members []models.Alert

	for _, id := range inc.MemberAlertIDs {
		alert, ok := a.alerts[id]
		if !ok {
			continue
		}
		members = append(members, alert)
		if alert.Suppressed {
			continue
		}
		severity = models.MaxSeverity(severity, alert.Severity)
		if primary == nil ||
			alert.Severity.Rank() > primary.Severity.Rank() ||
			(alert.Severity.Rank() == primary.Severity.Rank() && alert.Timestamp.Before(primary.Timestamp)) {
			copied := alert
			primary = &copied
		}
	}
	inc.Severity = severity

	if primary == nil && len(members) > 0 {
		// All members suppressed: the oldest one still names the incident.
		copied := members[0]
		for _, m := range members[1:] {
			if m.Timestamp.Before(copied.Timestamp) {
				copied = m
			}
		}
		primary = &copied
	}
	if primary != nil {
		inc.Title = primary.Name
	}
	inc.RootCauseHint = rootCauseHint(members)
}

// rootCauseHint summarises the label pairs common to every member alert.
func rootCauseHint(members []models.Alert) string {
	if len(members) == 0 {
		return ""
	}
	common := make(map[string]string, len(members[0].Labels))
	for k, v := range members[0].Labels {
		common[k] = v
	}
	for _, alert := range members[1:] {
		for k, v := range common {
			if alert.Labels[k] != v {
				delete(common, k)
			}
		}
	}
	if len(common) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(common))
	for k, v := range common {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return "shared context: " + strings.Join(pairs, ", ")
}

func latestAlertTime(alerts []models.Alert, fallback time.Time) time.Time {
	latest := fallback
	for _, alert := range alerts {
		if alert.Timestamp.After(latest) {
			latest = alert.Timestamp
		}
	}
	return latest
}
