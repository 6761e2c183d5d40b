// Package detect implements the anomaly scorer: an isolation-based
// outlier strategy and a trend/seasonality forecast strategy combined
// behind a single Score call. Models are retrained asynchronously and
// swapped atomically; scoring always uses the last committed models.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sentinelstack/sentinel-heal/internal/baseline"
	"github.com/sentinelstack/sentinel-heal/internal/models"
)

// Config tunes both detection strategies.
type Config struct {
	MinSamples          int
	Contamination       float64
	Trees               int
	Subsample           int
	ForecastConfidence  float64
	ConsecutiveBreaches int
	SeasonalityPeriod   int
}

// keyModel is the trained state for one metric key. Replaced wholesale
// on retrain, never mutated in place.
type keyModel struct {
	forest     *isolationForest
	threshold  float64
	forecaster *forecaster
	trainedAt  time.Time
}

// keyState is the small mutable scoring state kept outside the model:
// consecutive forecast breaches and steps since the model horizon.
type keyState struct {
	breaches int
	steps    int
}

// Scorer scores samples against trained per-key models.
type Scorer struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	models map[string]*keyModel
	state  map[string]*keyState
}

// NewScorer constructs a Scorer with the provided configuration.
func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 30
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = 0.10
	}
	if cfg.ForecastConfidence <= 0 || cfg.ForecastConfidence >= 1 {
		cfg.ForecastConfidence = 0.95
	}
	if cfg.ConsecutiveBreaches <= 0 {
		cfg.ConsecutiveBreaches = 3
	}
	return &Scorer{
		cfg:    cfg,
		logger: logger,
		models: make(map[string]*keyModel),
		state:  make(map[string]*keyState),
	}
}

// Score evaluates one sample against its baseline window. A baseline
// below the minimum sample count, or a key without a committed model,
// never yields an anomaly.
func (s *Scorer) Score(sample models.MetricSample, window []models.MetricSample) models.AnomalyVerdict {
	verdict := models.AnomalyVerdict{
		Key:       sample.Key,
		Timestamp: sample.Timestamp,
		Reason:    models.ReasonNone,
	}

	if len(window) < s.cfg.MinSamples {
		verdict.Reason = models.ReasonInsufficientData
		return verdict
	}

	s.mu.RLock()
	model := s.models[sample.Key]
	s.mu.RUnlock()
	if model == nil {
		verdict.Reason = models.ReasonInsufficientData
		return verdict
	}

	outlierAnom, outlierSev := s.scoreOutlier(model, sample, window)
	forecastAnom, forecastSev := s.scoreForecast(model, sample)

	switch {
	case outlierAnom && forecastAnom:
		verdict.IsAnomaly = true
		verdict.ContributingModel = models.ModelBoth
		verdict.Reason = models.ReasonOutlierScore
	case outlierAnom:
		verdict.IsAnomaly = true
		verdict.ContributingModel = models.ModelOutlier
		verdict.Reason = models.ReasonOutlierScore
	case forecastAnom:
		verdict.IsAnomaly = true
		verdict.ContributingModel = models.ModelForecast
		verdict.Reason = models.ReasonForecastBreach
	}
	if verdict.IsAnomaly {
		verdict.Severity = maxFloat(outlierSev, forecastSev)
	}
	return verdict
}

func (s *Scorer) scoreOutlier(model *keyModel, sample models.MetricSample, window []models.MetricSample) (bool, float64) {
	if model.forest == nil {
		return false, 0
	}
	delta := sample.Value - window[len(window)-1].Value
	score := model.forest.score([]float64{sample.Value, delta})
	if score < model.threshold {
		return false, 0
	}
	severity := clamp((score-model.threshold)/(1-model.threshold), 0, 1)
	return true, severity
}

func (s *Scorer) scoreForecast(model *keyModel, sample models.MetricSample) (bool, float64) {
	if model.forecaster == nil {
		return false, 0
	}

	s.mu.Lock()
	st, ok := s.state[sample.Key]
	if !ok {
		st = &keyState{}
		s.state[sample.Key] = st
	}
	st.steps++
	steps := st.steps
	s.mu.Unlock()

	z := zFromConfidence(s.cfg.ForecastConfidence)
	predicted, margin := model.forecaster.forecast(steps, z)

	deviation := sample.Value - predicted
	breached := deviation > margin || deviation < -margin

	s.mu.Lock()
	if breached {
		st.breaches++
	} else {
		st.breaches = 0
	}
	breaches := st.breaches
	s.mu.Unlock()

	if !breached || breaches < s.cfg.ConsecutiveBreaches {
		return false, 0
	}
	severity := clamp(absFloat(deviation)/(4*margin), 0, 1)
	return true, severity
}

// Retrain fits fresh models for every key with enough history and
// commits them in one swap. Cancellation abandons the new models; the
// previous ones stay authoritative. A per-key failure skips the key and
// keeps its old model.
func (s *Scorer) Retrain(ctx context.Context, store *baseline.Store) error {
	seed := time.Now().UnixNano()
	rnd := rand.New(rand.NewSource(seed))

	next := make(map[string]*keyModel)
	now := time.Now().UTC()

	for _, key := range store.Keys() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retrain cancelled: %w", err)
		}

		window := store.Window(key)
		if len(window) < s.cfg.MinSamples {
			continue
		}
		values := make([]float64, len(window))
		for i, sample := range window {
			values[i] = sample.Value
		}

		features := buildFeatures(values)
		forest := trainForest(features, s.cfg.Trees, s.cfg.Subsample, rnd)
		if forest == nil {
			s.logger.Warn("outlier training skipped", slog.String("key", key))
			continue
		}
		next[key] = &keyModel{
			forest:     forest,
			threshold:  calibrateThreshold(forest, features, s.cfg.Contamination),
			forecaster: trainForecaster(values, s.cfg.SeasonalityPeriod),
			trainedAt:  now,
		}
	}

	s.mu.Lock()
	// Keys that lost their training window keep the previous model.
	for key, old := range s.models {
		if _, ok := next[key]; !ok {
			next[key] = old
		}
	}
	s.models = next
	for key, st := range s.state {
		if m, ok := next[key]; ok && m.trainedAt.Equal(now) {
			st.steps = 0
			st.breaches = 0
		}
	}
	s.mu.Unlock()

	s.logger.Debug("models retrained", slog.Int("keys", len(next)))
	return nil
}

// TrainedKeys reports how many keys currently hold a committed model.
func (s *Scorer) TrainedKeys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func maxFloat(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
