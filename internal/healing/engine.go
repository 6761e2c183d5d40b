// Package healing evaluates configured remediation rules against system
// state and dispatches actions through an Executor, guarded by per-action
// cooldowns.
package healing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelstack/sentinel-heal/internal/cache"
	"github.com/sentinelstack/sentinel-heal/internal/metrics"
	"github.com/sentinelstack/sentinel-heal/internal/models"
	"github.com/sentinelstack/sentinel-heal/internal/utils"
)

// Executor performs one remediation action. Implementations must honor
// ctx cancellation; the engine bounds each call with the configured
// timeout. The returned detail string lands in the execution record.
type Executor interface {
	Execute(ctx context.Context, action models.SelfHealingAction, incidentID string) (string, error)
}

// Config tunes the rule engine.
type Config struct {
	RulesPath       string
	ExecutorTimeout time.Duration
	HistoryLimit    int
}

// Engine owns the rule set, cooldown bookkeeping and the execution log.
type Engine struct {
	cfg      Config
	executor Executor
	cache    cache.Provider
	logger   *slog.Logger
	history  *history
	now      func() time.Time

	mu       sync.Mutex
	rules    []*rule
	lastExec map[string]time.Time
}

// NewEngine loads the rule pack from cfg.RulesPath and wires the
// executor. provider may be nil; then cooldowns are process-local only.
func NewEngine(cfg Config, executor Executor, provider cache.Provider, logger *slog.Logger) (*Engine, error) {
	if executor == nil {
		return nil, utils.NewAppError("healing.NewEngine", "executor is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExecutorTimeout <= 0 {
		cfg.ExecutorTimeout = 30 * time.Second
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}

	rules, err := loadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	logger.Info("healing rules loaded",
		slog.String("path", cfg.RulesPath),
		slog.Int("rules", len(rules)))

	return &Engine{
		cfg:      cfg,
		executor: executor,
		cache:    provider,
		logger:   logger,
		history:  newHistory(cfg.HistoryLimit),
		now:      time.Now,
		rules:    rules,
		lastExec: make(map[string]time.Time),
	}, nil
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Actions returns the configured actions in evaluation order.
func (e *Engine) Actions() []models.SelfHealingAction {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.SelfHealingAction, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.action
	}
	return out
}

// SetEnabled toggles one action at runtime.
func (e *Engine) SetEnabled(actionID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		if r.action.ID == actionID {
			r.action.Enabled = enabled
			return nil
		}
	}
	return utils.NewAppError("healing.SetEnabled", fmt.Sprintf("action %s not found", actionID), nil)
}

// History returns up to n execution records, newest first.
func (e *Engine) History(n int) []models.ActionExecutionRecord {
	return e.history.list(n)
}

// Stats aggregates outcomes per action over the retained history.
func (e *Engine) Stats() map[string]ActionStats {
	return e.history.stats()
}

// Evaluate runs every enabled rule against the state. Matching rules in
// cooldown produce a skipped record; matching rules out of cooldown
// reserve the cooldown immediately and then execute, so a slow or failed
// execution still consumes the cooldown window. incidentID attributes
// the decision to the incident that drove the state snapshot.
func (e *Engine) Evaluate(ctx context.Context, state State, incidentID string) []models.ActionExecutionRecord {
	e.mu.Lock()
	now := e.now().UTC()

	type firing struct {
		action models.SelfHealingAction
	}
	var toRun []firing
	var decided []models.ActionExecutionRecord

	for _, r := range e.rules {
		if !r.action.Enabled {
			continue
		}
		matched, err := r.cond.eval(state)
		if err != nil {
			e.logger.Warn("condition evaluation failed",
				slog.String("action_id", r.action.ID),
				slog.String("error", err.Error()))
			continue
		}
		if !matched {
			continue
		}

		if last, ok := e.lastExec[r.action.ID]; ok && now.Sub(last) < r.action.Cooldown() {
			rec := models.ActionExecutionRecord{
				ID:          uuid.NewString(),
				ActionID:    r.action.ID,
				IncidentID:  incidentID,
				TriggeredAt: now,
				Outcome:     models.OutcomeSkippedCooldown,
				Detail:      fmt.Sprintf("cooldown active until %s", last.Add(r.action.Cooldown()).Format(time.RFC3339)),
			}
			decided = append(decided, rec)
			continue
		}

		// Reserve the cooldown before releasing the lock so concurrent
		// evaluations cannot double-fire the same action.
		e.lastExec[r.action.ID] = now
		toRun = append(toRun, firing{action: r.action})
	}
	e.mu.Unlock()

	for _, rec := range decided {
		e.history.append(rec)
		metrics.ObserveAction(string(rec.Outcome))
	}

	records := decided
	for _, f := range toRun {
		rec := e.execute(ctx, f.action, incidentID, now)
		e.history.append(rec)
		metrics.ObserveAction(string(rec.Outcome))
		records = append(records, rec)
	}
	return records
}

func (e *Engine) execute(ctx context.Context, action models.SelfHealingAction, incidentID string, now time.Time) models.ActionExecutionRecord {
	rec := models.ActionExecutionRecord{
		ID:          uuid.NewString(),
		ActionID:    action.ID,
		IncidentID:  incidentID,
		TriggeredAt: now,
	}

	// Cross-instance guard: if another engine instance already fired this
	// action within the cooldown, back off. Best effort; the noop
	// provider always grants the lock.
	guardKey := "sentinel-heal:cooldown:" + action.ID
	if ok, err := e.cache.SetNX(ctx, guardKey, []byte(now.Format(time.RFC3339)), action.Cooldown()); err != nil {
		e.logger.Warn("cooldown guard unavailable",
			slog.String("action_id", action.ID),
			slog.String("error", err.Error()))
	} else if !ok {
		rec.Outcome = models.OutcomeSkippedCooldown
		rec.Detail = "cooldown held by another instance"
		return rec
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutorTimeout)
	defer cancel()

	detail, err := e.executor.Execute(execCtx, action, incidentID)
	if err != nil {
		rec.Outcome = models.OutcomeFailure
		rec.Detail = err.Error()
		e.logger.Error("action execution failed",
			slog.String("action_id", action.ID),
			slog.String("incident_id", incidentID),
			slog.String("error", err.Error()))
		return rec
	}

	rec.Outcome = models.OutcomeSuccess
	rec.Detail = detail
	e.logger.Info("action executed",
		slog.String("action_id", action.ID),
		slog.String("action_type", string(action.ActionType)),
		slog.String("incident_id", incidentID))
	return rec
}
