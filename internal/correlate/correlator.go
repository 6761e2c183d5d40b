// Package correlate clusters temporally and textually related alerts
// into incidents and suppresses near-duplicate noise. The working set is
// a sliding time window over recent alerts, so correlation cost stays
// linear in recent volume rather than total history.
package correlate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelstack/sentinel-heal/internal/models"
)

// Config tunes clustering and suppression behaviour.
type Config struct {
	SimilarityThreshold  float64
	SuppressionThreshold float64
	Window               time.Duration
	SuppressionCooldown  time.Duration
	OpenSingleton        bool
}

// Decision is the outcome of correlating one alert.
type Decision struct {
	// IncidentID is the open incident the alert should join; empty when
	// no existing incident qualified.
	IncidentID string
	// OpenNew indicates a new incident should be opened for this alert
	// (plus SiblingIDs, when the singleton policy requires corroboration).
	OpenNew bool
	// SiblingIDs are previously unclustered alerts that belong in the
	// new incident alongside this alert.
	SiblingIDs []string
	// Suppressed marks the alert as a near-duplicate of a recent alert
	// from the same source. Suppressed alerts still join incidents.
	Suppressed bool
}

type entry struct {
	alert      models.Alert
	tokens     tokenCounts
	incidentID string
}

// Correlator owns the sliding window of recent alerts and their incident
// assignments.
type Correlator struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entries []entry
}

// New constructs a Correlator.
func New(cfg Config, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.7
	}
	if cfg.SuppressionThreshold <= 0 {
		cfg.SuppressionThreshold = 0.95
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.SuppressionCooldown <= 0 {
		cfg.SuppressionCooldown = 5 * time.Minute
	}
	return &Correlator{cfg: cfg, logger: logger}
}

// Correlate decides where the alert belongs. openIncidents is the set of
// incident ids still open; window entries assigned to closed incidents
// are ignored for clustering. Correlate never mutates the window; call
// Record once the aggregator has placed the alert.
func (c *Correlator) Correlate(alert models.Alert, openIncidents map[string]bool, now time.Time) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(now)

	// Feeding the same alert twice must not re-cluster it.
	for _, e := range c.entries {
		if e.alert.ID == alert.ID {
			return Decision{IncidentID: e.incidentID, Suppressed: e.alert.Suppressed}
		}
	}

	tokens := tokenize(alert)
	docs := make([]tokenCounts, 0, len(c.entries)+1)
	for _, e := range c.entries {
		docs = append(docs, e.tokens)
	}
	docs = append(docs, tokens)
	df := documentFrequencies(docs)

	vec := weigh(tokens, df, len(docs))
	sims := make([]float64, len(c.entries))
	for i, e := range c.entries {
		sims[i] = cosine(vec, weigh(e.tokens, df, len(docs)))
	}

	decision := Decision{
		Suppressed: c.isDuplicateLocked(alert, sims),
	}
	if decision.Suppressed {
		c.logger.Debug("alert suppressed as near-duplicate", slog.String("alert_id", alert.ID))
	}

	if len(vec) == 0 {
		// Degenerate text: fall back to label+time matching only.
		decision.IncidentID = c.matchByLabelsLocked(alert, openIncidents)
	} else {
		decision.IncidentID = c.matchByDensityLocked(alert, sims, openIncidents)
	}
	if decision.IncidentID != "" {
		return decision
	}

	decision.SiblingIDs = c.siblingsLocked(alert, sims)
	decision.OpenNew = c.cfg.OpenSingleton || len(decision.SiblingIDs) > 0
	return decision
}

// Record inserts the alert into the sliding window with its incident
// assignment (empty for unclustered candidates).
func (c *Correlator) Record(alert models.Alert, incidentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.alert.ID == alert.ID {
			return
		}
	}
	c.entries = append(c.entries, entry{
		alert:      alert,
		tokens:     tokenize(alert),
		incidentID: incidentID,
	})
}

// Assign updates the incident assignment for an already-recorded alert.
// Used when pending siblings are folded into a newly opened incident.
func (c *Correlator) Assign(alertID, incidentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		if c.entries[i].alert.ID == alertID {
			c.entries[i].incidentID = incidentID
			return
		}
	}
}

// WindowSize reports the current number of alerts in the sliding window.
func (c *Correlator) WindowSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Correlator) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.alert.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}

// isDuplicateLocked implements noise suppression: a near-identical alert
// (very high similarity, identical labels, same source) fired within the
// suppression cooldown collapses into the earlier one.
func (c *Correlator) isDuplicateLocked(alert models.Alert, sims []float64) bool {
	for i, e := range c.entries {
		if e.alert.Source != alert.Source {
			continue
		}
		gap := alert.Timestamp.Sub(e.alert.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		if gap > c.cfg.SuppressionCooldown {
			continue
		}
		if !labelsEqual(alert, e.alert) {
			continue
		}
		sameKey := alert.CorrelationKey != "" && e.alert.CorrelationKey == alert.CorrelationKey
		if sims[i] > c.cfg.SuppressionThreshold || sameKey {
			return true
		}
	}
	return false
}

// matchByDensityLocked joins the open incident whose members have the
// highest average similarity above threshold. Averaging over the member
// set (rather than the nearest single neighbour) avoids transitively
// chaining unrelated alerts. Pairs without label overlap never count.
func (c *Correlator) matchByDensityLocked(alert models.Alert, sims []float64, openIncidents map[string]bool) string {
	type candidate struct {
		total float64
		n     int
	}
	candidates := make(map[string]*candidate)

	for i, e := range c.entries {
		if e.incidentID == "" || !openIncidents[e.incidentID] {
			continue
		}
		if !labelOverlap(alert, e.alert) {
			continue
		}
		cand, ok := candidates[e.incidentID]
		if !ok {
			cand = &candidate{}
			candidates[e.incidentID] = cand
		}
		cand.total += sims[i]
		cand.n++
	}

	best := ""
	bestAvg := 0.0
	for id, cand := range candidates {
		avg := cand.total / float64(cand.n)
		if avg < c.cfg.SimilarityThreshold {
			continue
		}
		// Deterministic tie-break: lowest incident id wins.
		if avg > bestAvg || (avg == bestAvg && (best == "" || id < best)) {
			best = id
			bestAvg = avg
		}
	}
	return best
}

// matchByLabelsLocked is the degenerate-input fallback: no usable text,
// so match the open incident with the most label-overlapping members.
func (c *Correlator) matchByLabelsLocked(alert models.Alert, openIncidents map[string]bool) string {
	overlaps := make(map[string]int)
	for _, e := range c.entries {
		if e.incidentID == "" || !openIncidents[e.incidentID] {
			continue
		}
		if labelOverlap(alert, e.alert) {
			overlaps[e.incidentID]++
		}
	}

	best := ""
	bestCount := 0
	for id, count := range overlaps {
		if count > bestCount || (count == bestCount && bestCount > 0 && id < best) {
			best = id
			bestCount = count
		}
	}
	return best
}

// siblingsLocked finds unclustered window alerts similar enough to form
// a new incident together with the candidate alert.
func (c *Correlator) siblingsLocked(alert models.Alert, sims []float64) []string {
	var siblings []string
	for i, e := range c.entries {
		if e.incidentID != "" {
			continue
		}
		if !labelOverlap(alert, e.alert) {
			continue
		}
		if sims[i] >= c.cfg.SimilarityThreshold {
			siblings = append(siblings, e.alert.ID)
		}
	}
	return siblings
}
