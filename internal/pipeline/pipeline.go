// Package pipeline drives the processing loop: drain queued samples and
// alerts, score, normalize, correlate, aggregate, then hand system state
// to the healing engine. One cycle runs per tick; healing and retraining
// run in the background so a slow executor never delays scoring.
package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinelstack/sentinel-heal/internal/baseline"
	"github.com/sentinelstack/sentinel-heal/internal/correlate"
	"github.com/sentinelstack/sentinel-heal/internal/detect"
	"github.com/sentinelstack/sentinel-heal/internal/healing"
	"github.com/sentinelstack/sentinel-heal/internal/incidents"
	"github.com/sentinelstack/sentinel-heal/internal/metrics"
	"github.com/sentinelstack/sentinel-heal/internal/models"
	"github.com/sentinelstack/sentinel-heal/internal/normalize"
	"github.com/sentinelstack/sentinel-heal/internal/utils"
)

// Config tunes the processing loop.
type Config struct {
	Interval        time.Duration
	SampleQueueSize int
	AlertQueueSize  int
	RetrainInterval time.Duration
	RetrainSamples  int
	// PendingTTL bounds how long unclustered alerts wait for corroborating
	// siblings before being discarded. Matches the correlation window.
	PendingTTL time.Duration
}

// Pipeline wires the stages together and owns the ingest queues.
type Pipeline struct {
	cfg        Config
	logger     *slog.Logger
	store      *baseline.Store
	scorer     *detect.Scorer
	normalizer *normalize.Normalizer
	correlator *correlate.Correlator
	aggregator *incidents.Aggregator
	engine     *healing.Engine
	latency    *utils.LatencyTracker

	samples chan models.MetricSample
	alerts  chan models.Alert

	healingBusy atomic.Bool
	retrainBusy atomic.Bool

	ingested   atomic.Int64
	suppressed atomic.Int64

	mu                sync.Mutex
	pending           map[string]pendingAlert
	lastRetrain       time.Time
	samplesSinceTrain int
	now               func() time.Time
}

type pendingAlert struct {
	alert models.Alert
	seen  time.Time
}

// New constructs a Pipeline over already-built stages.
func New(cfg Config, store *baseline.Store, scorer *detect.Scorer, normalizer *normalize.Normalizer,
	correlator *correlate.Correlator, aggregator *incidents.Aggregator, engine *healing.Engine,
	logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.SampleQueueSize <= 0 {
		cfg.SampleQueueSize = 4096
	}
	if cfg.AlertQueueSize <= 0 {
		cfg.AlertQueueSize = 1024
	}
	if cfg.RetrainInterval <= 0 {
		cfg.RetrainInterval = 24 * time.Hour
	}
	if cfg.RetrainSamples <= 0 {
		cfg.RetrainSamples = 500
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 15 * time.Minute
	}
	return &Pipeline{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		scorer:      scorer,
		normalizer:  normalizer,
		correlator:  correlator,
		aggregator:  aggregator,
		engine:      engine,
		latency:     utils.NewLatencyTracker(512),
		samples:     make(chan models.MetricSample, cfg.SampleQueueSize),
		alerts:      make(chan models.Alert, cfg.AlertQueueSize),
		pending:     make(map[string]pendingAlert),
		lastRetrain: time.Now().UTC(),
		now:         time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Submit queues a metric sample for the next cycle. A full queue rejects
// the sample rather than blocking the producer.
func (p *Pipeline) Submit(sample models.MetricSample) error {
	if sample.Key == "" {
		return utils.NewAppError("pipeline.Submit", "sample key is required", nil)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = p.clock()()
	}
	select {
	case p.samples <- sample:
		return nil
	default:
		return utils.NewAppError("pipeline.Submit", "sample queue full", nil)
	}
}

// SubmitAlert queues an already-normalized alert for the next cycle.
func (p *Pipeline) SubmitAlert(alert models.Alert) error {
	select {
	case p.alerts <- alert:
		return nil
	default:
		return utils.NewAppError("pipeline.SubmitAlert", "alert queue full", nil)
	}
}

// Run executes cycles at the configured interval until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("pipeline started", slog.Duration("interval", p.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopped")
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle processes everything queued since the previous cycle.
func (p *Pipeline) RunCycle(ctx context.Context) {
	started := time.Now()
	now := p.clock()()

	newAlerts := p.scoreSamples()
	newAlerts = append(newAlerts, p.drainAlerts()...)

	for _, alert := range newAlerts {
		p.placeAlert(alert, now)
	}
	p.prunePending(now)

	for range p.aggregator.SweepQuiet() {
		metrics.ObserveIncidentEvent("resolved")
	}

	p.maybeRetrain(ctx, now)
	p.maybeHeal(ctx)

	elapsed := time.Since(started)
	p.latency.Observe(elapsed)
	metrics.ObserveCycle(elapsed)
}

// scoreSamples drains the sample queue, scores each sample against its
// baseline window and converts anomalous verdicts to alerts. Keys are
// scored concurrently; within a key, samples keep arrival order because
// forecast breach counting is order-sensitive.
func (p *Pipeline) scoreSamples() []models.Alert {
	byKey := make(map[string][]models.MetricSample)
	for {
		select {
		case sample := <-p.samples:
			byKey[sample.Key] = append(byKey[sample.Key], sample)
		default:
			goto drained
		}
	}
drained:
	if len(byKey) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		alerts   []models.Alert
		consumed int
	)
	for key, samples := range byKey {
		consumed += len(samples)
		wg.Add(1)
		go func(key string, samples []models.MetricSample) {
			defer wg.Done()
			for _, sample := range samples {
				window := p.store.Window(key)
				verdict := p.scorer.Score(sample, window)
				p.store.Append(sample)
				metrics.ObserveSampleScored()

				if !verdict.IsAnomaly {
					continue
				}
				metrics.ObserveAnomaly(string(verdict.ContributingModel))
				alert, err := p.normalizer.FromVerdict(verdict, sample)
				if err != nil {
					p.logger.Warn("verdict normalization failed",
						slog.String("key", key), slog.String("error", err.Error()))
					continue
				}
				mu.Lock()
				alerts = append(alerts, alert)
				mu.Unlock()
			}
		}(key, samples)
	}
	wg.Wait()

	p.mu.Lock()
	p.samplesSinceTrain += consumed
	p.mu.Unlock()

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Timestamp.Before(alerts[j].Timestamp) })
	return alerts
}

func (p *Pipeline) drainAlerts() []models.Alert {
	var out []models.Alert
	for {
		select {
		case alert := <-p.alerts:
			out = append(out, alert)
		default:
			return out
		}
	}
}

// placeAlert routes one alert through correlation into the incident
// registry, opening a new incident when the decision calls for it.
func (p *Pipeline) placeAlert(alert models.Alert, now time.Time) {
	metrics.ObserveAlertIngested(string(alert.Source))
	p.ingested.Add(1)

	decision := p.correlator.Correlate(alert, p.aggregator.OpenIncidentIDs(), now)
	if decision.Suppressed {
		alert.Suppressed = true
		p.suppressed.Add(1)
		metrics.ObserveAlertSuppressed()
	}

	switch {
	case decision.IncidentID != "":
		if err := p.aggregator.Attach(decision.IncidentID, alert); err != nil {
			p.logger.Warn("attach failed",
				slog.String("incident_id", decision.IncidentID),
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()))
			p.correlator.Record(alert, "")
			return
		}
		p.correlator.Record(alert, decision.IncidentID)
		metrics.ObserveIncidentEvent("extended")

	case decision.OpenNew:
		members := []models.Alert{alert}
		p.mu.Lock()
		for _, sibID := range decision.SiblingIDs {
			if pend, ok := p.pending[sibID]; ok {
				members = append(members, pend.alert)
				delete(p.pending, sibID)
			}
		}
		p.mu.Unlock()

		inc, err := p.aggregator.OpenIncident(members)
		if err != nil {
			p.logger.Warn("open incident failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()))
			p.correlator.Record(alert, "")
			return
		}
		p.correlator.Record(alert, inc.ID)
		for _, member := range members[1:] {
			p.correlator.Assign(member.ID, inc.ID)
		}
		metrics.ObserveIncidentEvent("opened")

	default:
		// Singleton policy off and no siblings yet: hold the alert until
		// a related one arrives or the pending TTL expires.
		p.mu.Lock()
		p.pending[alert.ID] = pendingAlert{alert: alert, seen: now}
		p.mu.Unlock()
		p.correlator.Record(alert, "")
	}
}

func (p *Pipeline) prunePending(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, pend := range p.pending {
		if now.Sub(pend.seen) > p.cfg.PendingTTL {
			delete(p.pending, id)
		}
	}
}

// maybeRetrain starts a background retrain when the interval elapsed or
// enough samples arrived. Single flight; an in-progress retrain wins.
func (p *Pipeline) maybeRetrain(ctx context.Context, now time.Time) {
	p.mu.Lock()
	due := now.Sub(p.lastRetrain) >= p.cfg.RetrainInterval || p.samplesSinceTrain >= p.cfg.RetrainSamples
	p.mu.Unlock()
	if !due {
		return
	}
	if !p.retrainBusy.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer p.retrainBusy.Store(false)
		if err := p.scorer.Retrain(ctx, p.store); err != nil {
			p.logger.Warn("retrain aborted", slog.String("error", err.Error()))
			return
		}
		p.mu.Lock()
		p.lastRetrain = p.clockLocked()()
		p.samplesSinceTrain = 0
		p.mu.Unlock()
	}()
}

// maybeHeal snapshots system state and evaluates the healing rules in
// the background. Skipped entirely when the previous evaluation is
// still running.
func (p *Pipeline) maybeHeal(ctx context.Context) {
	if p.engine == nil {
		return
	}
	if !p.healingBusy.CompareAndSwap(false, true) {
		return
	}

	state, incidentID := p.healingState()
	go func() {
		defer p.healingBusy.Store(false)
		p.engine.Evaluate(ctx, state, incidentID)
	}()
}

// healingState flattens the latest metric values and incident summary
// into the fact map conditions evaluate against. Metric keys are
// sanitized into identifier form (cpu.percent becomes cpu_percent).
func (p *Pipeline) healingState() (healing.State, string) {
	state := make(healing.State)
	for _, key := range p.store.Keys() {
		if sample, ok := p.store.Latest(key); ok {
			state[sanitizeField(key)] = sample.Value
		}
	}

	open := p.aggregator.OpenIncidents()
	state["open_incidents"] = float64(len(open))

	maxSeverity := models.Severity("")
	triggering := ""
	var triggeringCreated time.Time
	for _, inc := range open {
		if inc.Severity.Rank() > maxSeverity.Rank() ||
			(inc.Severity.Rank() == maxSeverity.Rank() && (triggering == "" || inc.CreatedAt.Before(triggeringCreated))) {
			maxSeverity = inc.Severity
			triggering = inc.ID
			triggeringCreated = inc.CreatedAt
		}
	}
	if maxSeverity == "" {
		state["max_severity"] = "none"
	} else {
		state["max_severity"] = string(maxSeverity)
	}
	state["has_critical_incident"] = maxSeverity == models.SeverityCritical
	return state, triggering
}

// Snapshot reports pipeline health for the status endpoint.
type Snapshot struct {
	QueuedSamples     int           `json:"queued_samples"`
	QueuedAlerts      int           `json:"queued_alerts"`
	TrainedKeys       int           `json:"trained_keys"`
	TrackedKeys       int           `json:"tracked_keys"`
	CorrelationWindow int           `json:"correlation_window_alerts"`
	PendingAlerts     int           `json:"pending_alerts"`
	AlertsIngested    int64         `json:"alerts_ingested"`
	AlertsSuppressed  int64         `json:"alerts_suppressed"`
	SuppressionRatio  float64       `json:"suppression_ratio"`
	CycleP95          time.Duration `json:"cycle_p95_ns"`
}

// Status returns a point-in-time view of the pipeline.
func (p *Pipeline) Status() Snapshot {
	p.mu.Lock()
	pending := len(p.pending)
	p.mu.Unlock()

	ingested := p.ingested.Load()
	suppressed := p.suppressed.Load()
	ratio := 0.0
	if ingested > 0 {
		ratio = float64(suppressed) / float64(ingested)
	}

	return Snapshot{
		QueuedSamples:     len(p.samples),
		QueuedAlerts:      len(p.alerts),
		TrainedKeys:       p.scorer.TrainedKeys(),
		TrackedKeys:       len(p.store.Keys()),
		CorrelationWindow: p.correlator.WindowSize(),
		PendingAlerts:     pending,
		AlertsIngested:    ingested,
		AlertsSuppressed:  suppressed,
		SuppressionRatio:  ratio,
		CycleP95:          p.latency.Percentile(95),
	}
}

func (p *Pipeline) clock() func() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// clockLocked returns the time source; callers already hold p.mu.
func (p *Pipeline) clockLocked() func() time.Time {
	return p.now
}

func sanitizeField(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
