package detect

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-heal/internal/baseline"
	"github.com/sentinelstack/sentinel-heal/internal/models"
)

func trainStore(t *testing.T, key string, values []float64) *baseline.Store {
	t.Helper()
	store := baseline.NewStore(len(values) + 10)
	base := time.Unix(1700000000, 0)
	for i, v := range values {
		store.Append(models.MetricSample{
			Key:       key,
			Value:     v,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return store
}

// steadySeries produces a deterministic series around center with small
// periodic wobble.
func steadySeries(n int, center, wobble float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = center + wobble*math.Sin(float64(i)/3)
	}
	return values
}

func TestScoreInsufficientData(t *testing.T) {
	scorer := NewScorer(Config{MinSamples: 30}, nil)

	verdict := scorer.Score(models.MetricSample{Key: "cpu", Value: 50}, nil)
	if verdict.IsAnomaly {
		t.Fatal("expected no anomaly on empty window")
	}
	if verdict.Reason != models.ReasonInsufficientData {
		t.Fatalf("expected insufficient_data, got %s", verdict.Reason)
	}
}

func TestScoreWithoutModelIsInsufficient(t *testing.T) {
	scorer := NewScorer(Config{MinSamples: 5}, nil)
	store := trainStore(t, "cpu", steadySeries(50, 40, 5))

	verdict := scorer.Score(models.MetricSample{Key: "cpu", Value: 95}, store.Window("cpu"))
	if verdict.IsAnomaly {
		t.Fatal("expected no anomaly before any retrain")
	}
	if verdict.Reason != models.ReasonInsufficientData {
		t.Fatalf("expected insufficient_data, got %s", verdict.Reason)
	}
}

func TestScoreFlagsSpikeAfterRetrain(t *testing.T) {
	scorer := NewScorer(Config{
		MinSamples:          30,
		Contamination:       0.10,
		Trees:               50,
		Subsample:           128,
		ForecastConfidence:  0.95,
		ConsecutiveBreaches: 3,
	}, nil)
	store := trainStore(t, "cpu", steadySeries(200, 40, 5))

	if err := scorer.Retrain(context.Background(), store); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}
	if scorer.TrainedKeys() != 1 {
		t.Fatalf("expected 1 trained key, got %d", scorer.TrainedKeys())
	}

	window := store.Window("cpu")
	spike := models.MetricSample{Key: "cpu", Value: 95, Timestamp: time.Unix(1700100000, 0)}

	verdict := scorer.Score(spike, window)
	if !verdict.IsAnomaly {
		t.Fatal("expected spike to be anomalous")
	}
	if verdict.ContributingModel != models.ModelOutlier {
		t.Fatalf("expected outlier model, got %s", verdict.ContributingModel)
	}
	if verdict.Severity <= 0 || verdict.Severity > 1 {
		t.Fatalf("severity out of range: %v", verdict.Severity)
	}
}

func TestScoreNormalValueStaysQuiet(t *testing.T) {
	scorer := NewScorer(Config{MinSamples: 30, Contamination: 0.10, Trees: 50, Subsample: 128}, nil)
	store := trainStore(t, "cpu", steadySeries(200, 40, 5))

	if err := scorer.Retrain(context.Background(), store); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}

	verdict := scorer.Score(models.MetricSample{Key: "cpu", Value: 40.5}, store.Window("cpu"))
	if verdict.IsAnomaly {
		t.Fatalf("expected normal value to pass, got anomaly via %s", verdict.ContributingModel)
	}
}

func TestRetrainCancelledKeepsOldModels(t *testing.T) {
	scorer := NewScorer(Config{MinSamples: 30, Contamination: 0.10, Trees: 50, Subsample: 128}, nil)
	store := trainStore(t, "cpu", steadySeries(200, 40, 5))

	if err := scorer.Retrain(context.Background(), store); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := scorer.Retrain(ctx, store); err == nil {
		t.Fatal("expected cancelled retrain to error")
	}
	if scorer.TrainedKeys() != 1 {
		t.Fatalf("expected old model to survive cancellation, got %d keys", scorer.TrainedKeys())
	}
}

func TestRetrainKeepsModelForShrunkKey(t *testing.T) {
	scorer := NewScorer(Config{MinSamples: 30, Contamination: 0.10, Trees: 50, Subsample: 128}, nil)
	store := trainStore(t, "cpu", steadySeries(100, 40, 5))

	if err := scorer.Retrain(context.Background(), store); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}

	// A second store where the key has too little history.
	short := trainStore(t, "cpu", steadySeries(5, 40, 5))
	if err := scorer.Retrain(context.Background(), short); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}
	if scorer.TrainedKeys() != 1 {
		t.Fatalf("expected previous model to be kept, got %d keys", scorer.TrainedKeys())
	}
}
