package detect

import (
	"math/rand"
	"testing"
)

func TestTrainForestEmptyInput(t *testing.T) {
	if f := trainForest(nil, 10, 32, rand.New(rand.NewSource(1))); f != nil {
		t.Fatal("expected nil forest for empty features")
	}
}

func TestOutlierScoresHigherThanInliers(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	values := make([]float64, 300)
	for i := range values {
		values[i] = 40 + rnd.Float64()*10
	}
	features := buildFeatures(values)

	forest := trainForest(features, 100, 128, rnd)
	if forest == nil {
		t.Fatal("expected forest")
	}

	inlier := forest.score([]float64{45, 1})
	outlier := forest.score([]float64{95, 50})
	if outlier <= inlier {
		t.Fatalf("expected outlier score above inlier: outlier=%v inlier=%v", outlier, inlier)
	}
	if inlier <= 0 || outlier >= 1 {
		t.Fatalf("scores out of range: inlier=%v outlier=%v", inlier, outlier)
	}
}

func TestCalibratedThresholdSeparatesTraining(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	values := make([]float64, 300)
	for i := range values {
		values[i] = 40 + rnd.Float64()*10
	}
	features := buildFeatures(values)
	forest := trainForest(features, 100, 128, rnd)

	threshold := calibrateThreshold(forest, features, 0.10)
	if threshold <= 0 || threshold >= 1 {
		t.Fatalf("threshold out of range: %v", threshold)
	}

	above := 0
	for _, point := range features {
		if forest.score(point) >= threshold {
			above++
		}
	}
	// Roughly the contamination share of training points sits above the
	// threshold.
	if above == 0 || above > len(features)/4 {
		t.Fatalf("expected ~10%% above threshold, got %d of %d", above, len(features))
	}
}

func TestBuildFeatures(t *testing.T) {
	features := buildFeatures([]float64{10, 12, 9})
	if len(features) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(features))
	}
	if features[0][1] != 0 {
		t.Fatalf("expected zero delta for first point, got %v", features[0][1])
	}
	if features[1][1] != 2 || features[2][1] != -3 {
		t.Fatalf("unexpected deltas: %v %v", features[1][1], features[2][1])
	}
}
