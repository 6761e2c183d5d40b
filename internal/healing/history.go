package healing

import (
	"sync"

	"github.com/sentinelstack/sentinel-heal/internal/models"
)

// ActionStats summarises execution outcomes for one action. Skipped
// decisions are reported but excluded from the success-rate denominator
// since no executor ran.
type ActionStats struct {
	ActionID    string  `json:"action_id"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
}

// history is a bounded append-only log of execution records. When full,
// the oldest records fall off.
type history struct {
	mu      sync.RWMutex
	limit   int
	records []models.ActionExecutionRecord
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = 2048
	}
	return &history{limit: limit}
}

func (h *history) append(rec models.ActionExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	if len(h.records) > h.limit {
		h.records = h.records[len(h.records)-h.limit:]
	}
}

// list returns up to n records, newest first. n <= 0 returns everything.
func (h *history) list(n int) []models.ActionExecutionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := len(h.records)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]models.ActionExecutionRecord, n)
	for i := 0; i < n; i++ {
		out[i] = h.records[total-1-i]
	}
	return out
}

// stats aggregates outcomes per action over the retained records.
func (h *history) stats() map[string]ActionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]ActionStats)
	for _, rec := range h.records {
		s := out[rec.ActionID]
		s.ActionID = rec.ActionID
		switch rec.Outcome {
		case models.OutcomeSuccess:
			s.Successes++
		case models.OutcomeFailure:
			s.Failures++
		case models.OutcomeSkippedCooldown:
			s.Skipped++
		}
		out[rec.ActionID] = s
	}
	for id, s := range out {
		if executed := s.Successes + s.Failures; executed > 0 {
			s.SuccessRate = float64(s.Successes) / float64(executed)
		}
		out[id] = s
	}
	return out
}
