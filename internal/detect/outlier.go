package detect

import (
	"math"
	"math/rand"
	"sort"
)

// isolationForest is an ensemble of random partition trees. Points that
// isolate in few splits score close to 1; dense points score near 0.5
// or below.
type isolationForest struct {
	trees     []*isoNode
	subsample int
}

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int // leaf population; zero for internal nodes
}

// trainForest fits trees over the feature matrix. Each tree sees a random
// subsample and splits on a random feature at a random cut point until
// isolation or the depth limit.
func trainForest(features [][]float64, trees, subsample int, rnd *rand.Rand) *isolationForest {
	if len(features) == 0 {
		return nil
	}
	if trees <= 0 {
		trees = 100
	}
	if subsample <= 0 || subsample > len(features) {
		subsample = len(features)
	}

	depthLimit := int(math.Ceil(math.Log2(float64(subsample)))) + 1
	forest := &isolationForest{subsample: subsample}
	for t := 0; t < trees; t++ {
		sample := make([][]float64, subsample)
		for i := range sample {
			sample[i] = features[rnd.Intn(len(features))]
		}
		forest.trees = append(forest.trees, buildTree(sample, 0, depthLimit, rnd))
	}
	return forest
}

func buildTree(points [][]float64, depth, limit int, rnd *rand.Rand) *isoNode {
	if len(points) <= 1 || depth >= limit {
		return &isoNode{size: len(points)}
	}

	dims := len(points[0])
	feature := rnd.Intn(dims)

	min, max := points[0][feature], points[0][feature]
	for _, p := range points[1:] {
		if p[feature] < min {
			min = p[feature]
		}
		if p[feature] > max {
			max = p[feature]
		}
	}
	if min == max {
		return &isoNode{size: len(points)}
	}

	split := min + rnd.Float64()*(max-min)
	var left, right [][]float64
	for _, p := range points {
		if p[feature] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{size: len(points)}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildTree(left, depth+1, limit, rnd),
		right:   buildTree(right, depth+1, limit, rnd),
	}
}

// score returns the anomaly score for a point in (0, 1).
func (f *isolationForest) score(point []float64) float64 {
	if f == nil || len(f.trees) == 0 {
		return 0
	}
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, point, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/avgPathLength(f.subsample))
}

func pathLength(node *isoNode, point []float64, depth float64) float64 {
	if node.left == nil && node.right == nil {
		return depth + avgPathLength(node.size)
	}
	if point[node.feature] < node.split {
		return pathLength(node.left, point, depth+1)
	}
	return pathLength(node.right, point, depth+1)
}

// avgPathLength is the expected unsuccessful-search depth c(n) of a BST,
// the standard normalisation term for isolation scoring.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

// calibrateThreshold derives the score cut-off from the training
// distribution so that roughly `contamination` of training points fall
// above it.
func calibrateThreshold(forest *isolationForest, features [][]float64, contamination float64) float64 {
	if forest == nil || len(features) == 0 {
		return 1
	}
	scores := make([]float64, len(features))
	for i, point := range features {
		scores[i] = forest.score(point)
	}
	sort.Float64s(scores)

	idx := int(math.Ceil(float64(len(scores)) * (1 - contamination)))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	if idx < 0 {
		idx = 0
	}
	threshold := scores[idx]
	// Guard against degenerate training sets where every score collapses
	// to the same value.
	if threshold >= 1 {
		threshold = 0.99
	}
	return threshold
}

// buildFeatures maps a value series to [value, delta] feature vectors.
// The delta dimension lets the forest isolate abrupt jumps that are
// still inside the global value range.
func buildFeatures(values []float64) [][]float64 {
	features := make([][]float64, len(values))
	for i, v := range values {
		delta := 0.0
		if i > 0 {
			delta = v - values[i-1]
		}
		features[i] = []float64{v, delta}
	}
	return features
}
